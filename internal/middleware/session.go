// Package middleware はビューブリッジのHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	roleContextKey   = contextKey("role")
)

// SessionChecker は現在のセッション状態を提供する。session.Storeが実装する。
type SessionChecker interface {
	State() session.State
}

// NewSessionGate はログイン中でなければ401を返すミドルウェアを返す。
// ログイン中の場合はユーザーIDとロールをリクエストコンテキストに注入する。
func NewSessionGate(checker SessionChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := checker.State()
			if !st.IsAuthenticated || st.User == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthError(http.StatusUnauthorized, "ログインしてください。"))
				return
			}

			ctx := ContextWithUser(r.Context(), st.User.ID, st.User.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithUser はコンテキストにユーザーIDとロールを注入する。
func ContextWithUser(ctx context.Context, userID string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, roleContextKey, role)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションゲートを通過していない場合は空文字列。
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey).(string)
	return userID
}

// RoleFromContext はリクエストコンテキストからロールを取得する。
func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleContextKey).(model.Role)
	return role
}
