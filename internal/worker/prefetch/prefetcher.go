// Package prefetch はログイン中ユーザーのロールに応じてリソース一覧を先読みするワーカーを提供する。
// 先読みはクエリキャッシュを経由するため、新鮮なデータがあるリソースにはリモート呼び出しを行わない。
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/session"
)

// 結果のラベル
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// defaultMaxConcurrency はmaxConcurrency未指定時の並列数。
const (
	defaultMaxConcurrency = 4
	defaultInterval       = 5 * time.Minute
)

// roleResources はロールごとのダッシュボードで表示するリソース。
var roleResources = map[model.Role][]string{
	model.RoleAdmin: {
		model.ResourceUsers,
		model.ResourceDoctors,
		model.ResourcePatients,
		model.ResourceAppointments,
		model.ResourceMedications,
	},
	model.RoleDoctor: {
		model.ResourceAppointments,
		model.ResourcePatients,
		model.ResourcePrescriptions,
		model.ResourceMedications,
	},
	model.RolePatient: {
		model.ResourceAppointments,
		model.ResourcePrescriptions,
		model.ResourcePayments,
		model.ResourceDoctors,
	},
}

// ResourcesFor はロールの先読み対象リソースを返す。未知のロールは空。
func ResourcesFor(role model.Role) []string {
	out := make([]string, len(roleResources[role]))
	copy(out, roleResources[role])
	return out
}

// Warmer はリソース一覧をキャッシュへ読み込むインターフェース。portal.Endpointが実装する。
type Warmer interface {
	Warm(ctx context.Context) error
}

// Registry はリソース名からWarmerを引くインターフェース。
type Registry interface {
	Warmer(name string) (Warmer, error)
}

// RegistryFunc は関数をRegistryとして扱うアダプタ。
type RegistryFunc func(name string) (Warmer, error)

// Warmer はfを呼び出す。
func (f RegistryFunc) Warmer(name string) (Warmer, error) {
	return f(name)
}

// SessionSource は現在のセッション状態を提供する。session.Storeが実装する。
type SessionSource interface {
	State() session.State
}

// MetricsRecorder は先読み結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordPrefetch(resource, outcome string)
}

// Prefetcher は先読みのスケジューリングと並列制御を行う。
// semaphoreパターンで最大並列数を制御する。
type Prefetcher struct {
	registry       Registry
	session        SessionSource
	metrics        MetricsRecorder
	logger         *slog.Logger
	maxConcurrency int
}

// NewPrefetcher はPrefetcherを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。metricsはnilでもよい。
func NewPrefetcher(
	registry Registry,
	sess SessionSource,
	metrics MetricsRecorder,
	logger *slog.Logger,
	maxConcurrency int,
) *Prefetcher {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{
		registry:       registry,
		session:        sess,
		metrics:        metrics,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔で現在のセッションのロールに応じた先読みを行う。
// コンテキストがキャンセルされるまで実行を継続する。
// intervalが0以下の場合はデフォルト間隔を使う。
func (p *Prefetcher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("先読みワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", p.maxConcurrency),
	)

	// 起動直後に1回実行
	p.runForSession(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("先読みワーカーを停止しました")
			return
		case <-ticker.C:
			p.runForSession(ctx)
		}
	}
}

func (p *Prefetcher) runForSession(ctx context.Context) {
	st := p.session.State()
	if !st.IsAuthenticated || st.User == nil {
		p.logger.Debug("skipping prefetch: not logged in")
		return
	}
	p.RunOnce(ctx, st.User.Role)
}

// RunOnce はロールの先読み対象リソースを並列に読み込み、失敗したリソース数を返す。
// 個々の失敗はログに記録し、他のリソースの先読みは継続する。
func (p *Prefetcher) RunOnce(ctx context.Context, role model.Role) int {
	resources := ResourcesFor(role)
	if len(resources) == 0 {
		p.logger.Info("先読み対象のリソースはありません", slog.String("role", string(role)))
		return 0
	}

	start := time.Now()
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, name := range resources {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := p.warm(ctx, name); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				p.record(name, outcomeFailure)
				p.logger.Warn("リソースの先読みに失敗しました",
					slog.String("resource", name),
					slog.String("kind", string(model.KindOf(err))),
					slog.String("error", err.Error()),
				)
				return
			}
			p.record(name, outcomeSuccess)
		}(name)
	}

	wg.Wait()

	p.logger.Info("先読みサイクルが完了しました",
		slog.String("role", string(role)),
		slog.Int("resource_count", len(resources)),
		slog.Int("failed_count", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return failed
}

func (p *Prefetcher) warm(ctx context.Context, name string) error {
	w, err := p.registry.Warmer(name)
	if err != nil {
		return err
	}
	return w.Warm(ctx)
}

func (p *Prefetcher) record(resource, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordPrefetch(resource, outcome)
	}
}
