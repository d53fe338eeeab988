package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/careportal/internal/auth"
	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, creds model.Credentials) (auth.Result, error)
	Register(ctx context.Context, reg model.Registration) (auth.Result, error)
	Logout(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error
}

var _ AuthServiceInterface = (*auth.Service)(nil)

// SessionReader は現在のセッション状態を提供する。
type SessionReader interface {
	State() session.State
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	session SessionReader
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sess SessionReader) *AuthHandler {
	return &AuthHandler{
		service: service,
		session: sess,
	}
}

// sessionResponse はセッション状態のレスポンス。トークンは含めない。
type sessionResponse struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	User            *model.User `json:"user"`
	Route           string      `json:"route,omitempty"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeBody(r, w, &creds); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), creds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Register は新規ユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg model.Registration
	if err := decodeBody(r, w, &reg); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Register(r.Context(), reg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Logout はセッションを破棄する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset はパスワードリセット用のワンタイムコード送信を依頼する。
// POST /api/auth/password-reset
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ConfirmPasswordReset はワンタイムコードで新しいパスワードを設定する。
// POST /api/auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req model.PasswordResetConfirmation
	if err := decodeBody(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.ConfirmPasswordReset(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のセッション状態と遷移先を返す。
// GET /api/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	st := h.session.State()
	resp := sessionResponse{
		IsAuthenticated: st.IsAuthenticated,
		User:            st.User,
	}
	if st.User != nil {
		// 未知のロールでもフォールバック先を返す
		resp.Route, _ = session.LandingRoute(st.User.Role)
	}
	writeJSON(w, http.StatusOK, resp)
}
