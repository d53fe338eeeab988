// Package auth はログイン、新規登録、ログアウト、パスワードリセットの各フローを提供する。
// 認証APIの結果をセッションストアへ反映し、結果をユーザー通知として発行する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/session"
)

// 通知とログに使用する操作名
const (
	resourceAuth        = "auth"
	opLogin             = "login"
	opRegister          = "register"
	opLogout            = "logout"
	opPasswordReset     = "password_reset"
	opPasswordResetDone = "password_reset_confirm"
)

// Authenticator は認証APIのインターフェース。api.AuthClientが実装する。
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (model.AuthResponse, error)
	Register(ctx context.Context, reg model.Registration) (model.AuthResponse, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error
}

// SessionStore はセッションストアのインターフェース。session.Storeが実装する。
type SessionStore interface {
	State() session.State
	SetUser(ctx context.Context, resp model.AuthResponse) error
	ClearUser(ctx context.Context) error
}

// CacheClearer はログアウト時にクエリキャッシュを破棄するためのインターフェース。
type CacheClearer interface {
	Clear()
}

// Result はログイン・登録成功時の結果。
type Result struct {
	User model.User `json:"user"`
	// Route はロールに応じた遷移先。未知のロールの場合はsession.FallbackRoute。
	Route       string `json:"route"`
	UnknownRole bool   `json:"unknownRole,omitempty"`
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	api      Authenticator
	store    SessionStore
	cache    CacheClearer
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewService はServiceを生成する。cacheとnotifierはnilでもよい。
func NewService(
	api Authenticator,
	store SessionStore,
	cache CacheClearer,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:      api,
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
	}
}

// Login はメールアドレスとパスワードでログインする。
// 成功時はセッションを置き換え、ロールに応じた遷移先を返す。
// 失敗時はセッションを変更しない。
func (s *Service) Login(ctx context.Context, creds model.Credentials) (Result, error) {
	if err := validateCredentials(creds); err != nil {
		s.fail(opLogin, err)
		return Result{}, err
	}

	resp, err := s.api.Login(ctx, creds)
	if err != nil {
		s.fail(opLogin, err)
		return Result{}, err
	}
	return s.establish(ctx, opLogin, resp, "ログインしました")
}

// Register は新規ユーザーを登録し、そのままログイン状態にする。
func (s *Service) Register(ctx context.Context, reg model.Registration) (Result, error) {
	if err := validateRegistration(reg); err != nil {
		s.fail(opRegister, err)
		return Result{}, err
	}

	resp, err := s.api.Register(ctx, reg)
	if err != nil {
		s.fail(opRegister, err)
		return Result{}, err
	}
	return s.establish(ctx, opRegister, resp, "アカウントを登録しました")
}

// establish は認証レスポンスでセッションを置き換え、遷移先を決定する。
// 直前と異なるユーザーであれば、前のユーザーのデータを返さないようキャッシュを破棄する。
func (s *Service) establish(ctx context.Context, op string, resp model.AuthResponse, message string) (Result, error) {
	prev := s.store.State().User
	if err := s.store.SetUser(ctx, resp); err != nil {
		if errors.Is(err, session.ErrMissingUser) {
			apiErr := model.NewServerError(0, "認証レスポンスにユーザー情報が含まれていません")
			apiErr.Err = err
			s.fail(op, apiErr)
			return Result{}, apiErr
		}
		// メモリ上のセッションは確立済みのため処理を継続する
		s.logger.Warn("セッションの永続化に失敗しました。再起動後はログアウト状態になります",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}

	user := *resp.User
	if s.cache != nil && (prev == nil || prev.ID != user.ID) {
		s.cache.Clear()
	}

	route, err := session.LandingRoute(user.Role)
	res := Result{User: user, Route: route}
	if err != nil {
		res.UnknownRole = true
		s.logger.Warn("未知のロールでログインしました",
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
			slog.String("route", route),
		)
	}

	s.logger.Info("user authenticated",
		slog.String("operation", op),
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	s.notify(notify.Success(resourceAuth, op, message))
	return res, nil
}

// Logout はセッションを初期状態に戻し、キャッシュを破棄する。
// 永続化に失敗した場合もメモリ上はログアウト状態となる。
func (s *Service) Logout(ctx context.Context) error {
	userID := ""
	if u := s.store.State().User; u != nil {
		userID = u.ID
	}

	err := s.store.ClearUser(ctx)
	if s.cache != nil {
		s.cache.Clear()
	}
	if err != nil {
		s.fail(opLogout, err)
		return err
	}

	s.logger.Info("user logged out", slog.String("user_id", userID))
	s.notify(notify.Success(resourceAuth, opLogout, "ログアウトしました"))
	return nil
}

// CurrentUser はログイン中のユーザーを返す。未ログインの場合はnil。
func (s *Service) CurrentUser() *model.User {
	return s.store.State().User
}

// RequestPasswordReset はパスワードリセット用のワンタイムパスワード送信を要求する。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		err := model.NewValidationError("メールアドレスの形式が正しくありません", map[string][]string{"email": {"invalid"}})
		s.fail(opPasswordReset, err)
		return err
	}

	if err := s.api.RequestPasswordReset(ctx, email); err != nil {
		s.fail(opPasswordReset, err)
		return err
	}
	s.notify(notify.Success(resourceAuth, opPasswordReset, "パスワードリセット用のコードを送信しました"))
	return nil
}

// ConfirmPasswordReset はワンタイムパスワードを検証して新しいパスワードを設定する。
// セッションは変更しない。
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error {
	fields := make(map[string][]string)
	if !validEmail(strings.TrimSpace(email)) {
		fields["email"] = []string{"invalid"}
	}
	if strings.TrimSpace(otp) == "" {
		fields["otp"] = []string{"required"}
	}
	if newPassword == "" {
		fields["new_password"] = []string{"required"}
	}
	if len(fields) > 0 {
		err := model.NewValidationError("", fields)
		s.fail(opPasswordResetDone, err)
		return err
	}

	if err := s.api.ConfirmPasswordReset(ctx, strings.TrimSpace(email), strings.TrimSpace(otp), newPassword); err != nil {
		s.fail(opPasswordResetDone, err)
		return err
	}
	s.notify(notify.Success(resourceAuth, opPasswordResetDone, "パスワードを再設定しました"))
	return nil
}

func (s *Service) fail(op string, err error) {
	s.logger.Warn("認証フローに失敗しました",
		slog.String("operation", op),
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
	)
	s.notify(notify.Failure(resourceAuth, op, err))
}

func (s *Service) notify(ev notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

func validateCredentials(creds model.Credentials) error {
	fields := make(map[string][]string)
	if !validEmail(strings.TrimSpace(creds.Email)) {
		fields["email"] = []string{"invalid"}
	}
	if creds.Password == "" {
		fields["password"] = []string{"required"}
	}
	if len(fields) > 0 {
		return model.NewValidationError("", fields)
	}
	return nil
}

func validateRegistration(reg model.Registration) error {
	fields := make(map[string][]string)
	if strings.TrimSpace(reg.Name) == "" {
		fields["name"] = []string{"required"}
	}
	if !validEmail(strings.TrimSpace(reg.Email)) {
		fields["email"] = []string{"invalid"}
	}
	if reg.Password == "" {
		fields["password"] = []string{"required"}
	}
	if len(fields) > 0 {
		return model.NewValidationError("", fields)
	}
	return nil
}

// validEmail は最低限の形式チェックのみ行う。厳密な検証はリモートAPIに任せる。
func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}
