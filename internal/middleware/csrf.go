package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewOriginGuard は状態変更メソッドのOriginヘッダーを検証するミドルウェアを返す。
// ブリッジのセッションはプロセス単位で共有されるため、許可したビュー以外のページからの
// 書き込みを403で拒否する。Originヘッダーを送らないクライアント（CLI等）は通過させる。
func NewOriginGuard(allowedOrigins string) func(next http.Handler) http.Handler {
	allowed := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] || sameOrigin(origin, "http://"+r.Host) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("origin validation failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("origin", origin),
			)
			WriteErrorResponse(w, http.StatusForbidden, forbiddenOriginError())
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// sameOrigin はスキーム・ホスト・ポートが一致するかを判定する。
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}
