// Package app はCLIとビューブリッジの起動処理、および依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/careportal/internal/api"
	"github.com/hitoshi/careportal/internal/auth"
	"github.com/hitoshi/careportal/internal/config"
	"github.com/hitoshi/careportal/internal/logger"
	"github.com/hitoshi/careportal/internal/metrics"
	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/portal"
	"github.com/hitoshi/careportal/internal/query"
	"github.com/hitoshi/careportal/internal/security"
	"github.com/hitoshi/careportal/internal/session"
	"github.com/hitoshi/careportal/internal/storage"
	"github.com/hitoshi/careportal/internal/worker/prefetch"
)

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envは任意。既に設定済みの環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Runtime はデータ同期層の全コンポーネントを保持する。
// CLIの1コマンド、またはビューブリッジの1プロセスにつき1つ生成する。
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Storage  storage.Storage
	Session  *session.Store
	Cache    *query.Cache
	Notifier *notify.Emitter
	Portal   *portal.Portal
	Auth     *auth.Service
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
}

// NewRuntime は設定に従ってストレージを開き、全コンポーネントを生成する。
// セッションはストレージから復元される。
func NewRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. ストレージとセッション
	st, err := storage.Open(storage.Config{
		Driver:   cfg.SessionStorage,
		Path:     cfg.SessionStoragePath,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store, err := session.NewStore(ctx, st, cfg.SessionNamespace, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リモートAPIクライアント
	client, err := api.New(api.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		Tokens:    store,
		Logger:    log,
		Metrics:   collector,
		RateLimit: rate.Limit(float64(cfg.APIRateLimit) / 60),
		RateBurst: cfg.APIRateBurst,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	// 4. キャッシュ、通知、ポータル
	cache := query.NewCache(query.Options{
		StaleTime:    cfg.CacheStaleTime,
		GCTime:       cfg.CacheGCTime,
		FetchTimeout: cfg.APITimeout,
		Logger:       log,
		Metrics:      collector,
	})
	emitter := notify.NewEmitter(log, security.NewMessageSanitizer(0))
	p := portal.New(client, cache, emitter)
	authService := auth.NewService(api.NewAuthClient(client), store, cache, emitter, log)

	return &Runtime{
		Config:   cfg,
		Logger:   log,
		Storage:  st,
		Session:  store,
		Cache:    cache,
		Notifier: emitter,
		Portal:   p,
		Auth:     authService,
		Metrics:  collector,
		Registry: registry,
	}, nil
}

// Close はストレージを閉じる。
func (rt *Runtime) Close() error {
	return rt.Storage.Close()
}

// UpdateProfile はログイン中ユーザーのプロフィールを更新してセッションへ反映する。
func (rt *Runtime) UpdateProfile(ctx context.Context, patch model.UserPatch) (model.User, error) {
	user, err := rt.Portal.UpdateProfile(ctx, rt.Session, patch)
	if errors.Is(err, portal.ErrNotLoggedIn) {
		return model.User{}, model.NewAuthError(0, "ログインしてください。")
	}
	return user, err
}

// prefetchRegistry はポータルのリソースを先読みワーカーへ公開する。
func (rt *Runtime) prefetchRegistry() prefetch.Registry {
	return prefetch.RegistryFunc(func(name string) (prefetch.Warmer, error) {
		ep, err := rt.Portal.Resource(name)
		if err != nil {
			return nil, err
		}
		return ep, nil
	})
}
