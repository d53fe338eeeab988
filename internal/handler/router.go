package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/careportal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	Session           middleware.SessionChecker
	CORSAllowedOrigin string

	Auth          AuthServiceInterface
	Resources     ResourceRegistry
	Profile       ProfileUpdater
	Notifications NotificationFeed

	// Metrics は /metrics を処理するハンドラー。nilの場合はルートを登録しない。
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → OriginGuard → SessionGate（/api/*のリソース系のみ）
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Session))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewOriginGuard(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Auth, deps.Session)
	resourceHandler := NewResourceHandler(deps.Resources, logger)
	accountHandler := NewAccountHandler(deps.Profile, deps.Notifications)

	// --- ログイン不要のルート ---
	r.Get("/health", health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get("/api/session", authHandler.Session)
	r.Get("/api/notifications", accountHandler.Notifications)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Post("/password-reset", authHandler.RequestPasswordReset)
		r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
	})

	// --- ログインが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionGate(deps.Session))

		r.Get("/api/resources", resourceHandler.Names)
		r.Patch("/api/profile", accountHandler.UpdateProfile)

		r.Route("/api/{resource}", func(r chi.Router) {
			r.Get("/", resourceHandler.List)
			r.Post("/", resourceHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", resourceHandler.Get)
				r.Patch("/", resourceHandler.Update)
				r.Delete("/", resourceHandler.Delete)
			})
		})
	})

	return r
}

// health は死活監視用のエンドポイント。
// GET /health
func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
