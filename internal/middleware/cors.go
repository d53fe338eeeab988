package middleware

import (
	"net/http"
	"strings"
)

// parseOrigins はカンマ区切りのオリジン指定を分解する。末尾のスラッシュは無視する。
func parseOrigins(list string) map[string]bool {
	origins := make(map[string]bool)
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		if o != "" {
			origins[o] = true
		}
	}
	return origins
}

// NewCORSMiddleware はビューのオリジンに対するCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定でき、リクエストのOriginが一致した場合のみ
// そのオリジンを返す。credentials送信と共存するため、ワイルドカード(*)は使用しない。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	allowed := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if allowed[origin] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				h.Set("Access-Control-Allow-Credentials", "true")
				// キャッシュ状態をビューから読めるよう公開する
				h.Set("Access-Control-Expose-Headers", RequestIDHeader+", X-Cache-Stale, X-Cache-Error, X-Cache-Fetched-At")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
