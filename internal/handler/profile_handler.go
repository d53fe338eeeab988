package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
)

// ProfileUpdater はログイン中ユーザー自身の情報を更新する。
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, patch model.UserPatch) (model.User, error)
}

// NotificationFeed は直近のユーザー通知を提供する。notify.Emitterが実装する。
type NotificationFeed interface {
	Recent(since time.Time) []notify.Event
}

var _ NotificationFeed = (*notify.Emitter)(nil)

// AccountHandler はプロフィールと通知のHTTPハンドラー。
type AccountHandler struct {
	profile       ProfileUpdater
	notifications NotificationFeed
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(profile ProfileUpdater, notifications NotificationFeed) *AccountHandler {
	return &AccountHandler{
		profile:       profile,
		notifications: notifications,
	}
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /api/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch model.UserPatch
	if err := decodeBody(r, w, &patch); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profile.UpdateProfile(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Notifications はsince以降の通知を古い順に返す。
// GET /api/notifications?since=2026-01-01T00:00:00Z
func (h *AccountHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, model.NewValidationError("sinceはRFC3339形式で指定してください。", map[string][]string{
				"since": {"invalid format"},
			}))
			return
		}
		since = t
	}

	events := h.notifications.Recent(since)
	if events == nil {
		events = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, map[string][]notify.Event{"notifications": events})
}
