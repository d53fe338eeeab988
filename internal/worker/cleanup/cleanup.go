// Package cleanup はクエリキャッシュのガベージコレクションジョブを提供する。
// GCTimeを超えて参照されていないエントリを定期的に破棄する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Collector は期限切れエントリを破棄するインターフェース。query.Cacheが実装する。
type Collector interface {
	Collect(now time.Time) int
}

// MetricsRecorder は破棄件数を記録するインターフェース。
type MetricsRecorder interface {
	RecordCacheEvictions(count int)
}

// CacheGCJob はキャッシュの定期GCジョブ。
// 何度実行しても結果が変わらない冪等な処理となる。
type CacheGCJob struct {
	cache   Collector
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewCacheGCJob は新しいCacheGCJobを生成する。metricsはnilでもよい。
func NewCacheGCJob(cache Collector, metrics MetricsRecorder, logger *slog.Logger) *CacheGCJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheGCJob{
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// DefaultInterval はStartに有効な間隔が渡されなかった場合の実行間隔。
const DefaultInterval = time.Minute

// Run は期限切れエントリを1回破棄し、破棄件数を返す。
func (j *CacheGCJob) Run(ctx context.Context) int {
	start := j.now()
	removed := j.cache.Collect(start)

	if j.metrics != nil {
		j.metrics.RecordCacheEvictions(removed)
	}
	j.logger.Debug("cache GC completed",
		slog.Int("removed_count", removed),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return removed
}

// Start はinterval間隔でRunを実行する。コンテキストがキャンセルされるまで継続する。
// intervalが0以下の場合はDefaultIntervalを使う。
func (j *CacheGCJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("キャッシュGCジョブを開始しました", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("キャッシュGCジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
