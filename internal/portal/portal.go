// Package portal はポータルのデータ同期層をまとめたコンテキストオブジェクトを提供する。
// リソースごとの型付きクライアントと、名前で引けるレジストリを保持する。
package portal

import (
	"context"
	"errors"
	"sort"

	"github.com/hitoshi/careportal/internal/api"
	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/query"
	"github.com/hitoshi/careportal/internal/security"
	"github.com/hitoshi/careportal/internal/session"
)

// ErrNotLoggedIn はログインしていない状態でプロフィールを更新しようとしたことを表す。
var ErrNotLoggedIn = errors.New("portal: not logged in")

// ProfileStore はプロフィール更新をセッションへ反映するためのインターフェース。
// session.Storeが実装する。
type ProfileStore interface {
	State() session.State
	UpdateUser(ctx context.Context, patch model.UserPatch) error
}

// Portal はキャッシュ、通知、各リソースを束ねたコンテキストオブジェクト。
// パッケージ変数を持たず、必要な箇所へ明示的に渡して使用する。
type Portal struct {
	Cache    *query.Cache
	Notifier notify.Notifier

	Appointments  *Resource[model.Appointment]
	Patients      *Resource[model.Patient]
	Doctors       *Resource[model.Doctor]
	Medications   *Resource[model.Medication]
	Prescriptions *Resource[model.Prescription]
	Users         *Resource[model.User]
	Payments      *Resource[model.Payment]

	registry map[string]Endpoint
}

// New はPortalを生成する。notifierはnilでもよい。
func New(client *api.Client, cache *query.Cache, notifier notify.Notifier) *Portal {
	p := &Portal{
		Cache:         cache,
		Notifier:      notifier,
		Appointments:  newResource[model.Appointment](client, cache, notifier, model.ResourceAppointments, "予約"),
		Patients:      newResource[model.Patient](client, cache, notifier, model.ResourcePatients, "患者"),
		Doctors:       newResource[model.Doctor](client, cache, notifier, model.ResourceDoctors, "医師"),
		Medications:   newResource[model.Medication](client, cache, notifier, model.ResourceMedications, "医薬品"),
		Prescriptions: newResource[model.Prescription](client, cache, notifier, model.ResourcePrescriptions, "処方箋"),
		Users:         newResource[model.User](client, cache, notifier, model.ResourceUsers, "ユーザー"),
		Payments:      newResource[model.Payment](client, cache, notifier, model.ResourcePayments, "支払い"),
	}
	p.registry = map[string]Endpoint{
		model.ResourceAppointments:  p.Appointments,
		model.ResourcePatients:      p.Patients,
		model.ResourceDoctors:       p.Doctors,
		model.ResourceMedications:   p.Medications,
		model.ResourcePrescriptions: p.Prescriptions,
		model.ResourceUsers:         p.Users,
		model.ResourcePayments:      p.Payments,
	}
	return p
}

// Resource は名前に対応するEndpointを返す。未定義の名前はNotFound分類のエラーとなる。
func (p *Portal) Resource(name string) (Endpoint, error) {
	ep, ok := p.registry[name]
	if !ok {
		return nil, model.NewUnknownResourceError(name)
	}
	return ep, nil
}

// Names は登録済みのリソース名を辞書順で返す。
func (p *Portal) Names() []string {
	names := make([]string, 0, len(p.registry))
	for name := range p.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateProfile はログイン中のユーザー自身の情報を更新し、成功時はセッションにも反映する。
func (p *Portal) UpdateProfile(ctx context.Context, store ProfileStore, patch model.UserPatch) (model.User, error) {
	st := store.State()
	if st.User == nil {
		return model.User{}, ErrNotLoggedIn
	}
	if patch.AvatarURL != nil && *patch.AvatarURL != "" {
		if err := security.ValidatePublicURL(*patch.AvatarURL); err != nil {
			apiErr := model.NewValidationError("アバター画像のURLが不正です。", map[string][]string{
				"avatarUrl": {err.Error()},
			})
			if p.Notifier != nil {
				p.Notifier.Notify(notify.Failure(model.ResourceUsers, OpUpdate, apiErr))
			}
			return model.User{}, apiErr
		}
	}

	updated, err := p.Users.Update(ctx, st.User.ID, patch)
	if err != nil {
		return model.User{}, err
	}

	if err := store.UpdateUser(ctx, patch); err != nil {
		return updated, err
	}
	return updated, nil
}
