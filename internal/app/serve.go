package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/careportal/internal/handler"
	"github.com/hitoshi/careportal/internal/metrics"
	"github.com/hitoshi/careportal/internal/session"
	"github.com/hitoshi/careportal/internal/worker/cleanup"
	"github.com/hitoshi/careportal/internal/worker/prefetch"
)

// shutdownTimeout はグレースフルシャットダウンの上限時間。
const shutdownTimeout = 30 * time.Second

// newServer はビューブリッジのHTTPサーバーを構成する。
func newServer(rt *Runtime) *http.Server {
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            rt.Logger,
		Session:           rt.Session,
		CORSAllowedOrigin: rt.Config.CORSAllowedOrigin,
		Auth:              rt.Auth,
		Resources:         rt.Portal,
		Profile:           rt,
		Notifications:     rt.Notifier,
		Metrics:           metrics.Handler(rt.Registry),
	})

	return &http.Server{
		Addr:         ":" + rt.Config.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: rt.Config.APITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// startWorkers はキャッシュGCと先読みのバックグラウンドジョブを起動する。
// ctxがキャンセルされると両方とも停止する。
func startWorkers(ctx context.Context, rt *Runtime) {
	gcJob := cleanup.NewCacheGCJob(rt.Cache, rt.Metrics, rt.Logger)
	go gcJob.Start(ctx, rt.Config.CacheGCInterval)

	prefetcher := prefetch.NewPrefetcher(
		rt.prefetchRegistry(), rt.Session, rt.Metrics, rt.Logger, rt.Config.PrefetchMaxConcurrent,
	)
	go prefetcher.Start(ctx, rt.Config.PrefetchInterval)

	// ログイン直後は次の周期を待たずに先読みする
	var mu sync.Mutex
	lastUserID := ""
	if u := rt.Session.State().User; u != nil {
		lastUserID = u.ID
	}
	unsubscribe := rt.Session.Subscribe(func(st session.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.User == nil {
			lastUserID = ""
			return
		}
		if st.User.ID == lastUserID {
			return
		}
		lastUserID = st.User.ID
		go prefetcher.RunOnce(ctx, st.User.Role)
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// runServe はビューブリッジモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, rt *Runtime) error {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	startWorkers(workerCtx, rt)

	server := newServer(rt)
	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("view bridge starting",
			slog.String("addr", server.Addr),
			slog.String("api_base_url", rt.Config.APIBaseURL),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.Logger.Info("shutting down view bridge...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	rt.Logger.Info("view bridge stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
