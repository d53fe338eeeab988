// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クエリキャッシュ、APIクライアント、ワーカーから利用する。
type MetricsCollector interface {
	RecordCacheHit(resource string)
	RecordCacheMiss(resource string)
	RecordDedup(resource string)
	RecordInvalidation(resource string)
	RecordFetchFailure(resource, kind string)
	RecordMutation(resource, operation, outcome string)
	ObserveAPIRequest(resource, method string, status int, duration time.Duration)
	RecordCacheEvictions(count int)
	RecordPrefetch(resource, outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	dedups         *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	apiStatus      *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	prefetches     *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_cache_hits_total",
			Help: "リモート呼び出しなしで返したキャッシュ読み取り数",
		}, []string{"resource"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_cache_misses_total",
			Help: "リモート呼び出しを開始したキャッシュ読み取り数",
		}, []string{"resource"}),
		dedups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_cache_dedup_total",
			Help: "実行中の取得に合流した読み取り数",
		}, []string{"resource"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_cache_invalidations_total",
			Help: "リソース単位の無効化の合計数",
		}, []string{"resource"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_fetch_failures_total",
			Help: "エラー分類別の読み取り失敗数",
		}, []string{"resource", "kind"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_mutations_total",
			Help: "書き込みの合計数",
		}, []string{"resource", "operation", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careportal_api_request_duration_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource", "method"}),
		apiStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_api_http_status_total",
			Help: "リモートAPIのHTTPステータスコード別のレスポンス数（0は通信障害）",
		}, []string{"status_code"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careportal_cache_evictions_total",
			Help: "GCで破棄したキャッシュエントリの合計数",
		}),
		prefetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careportal_prefetch_total",
			Help: "ワーカーによる先読みの合計数",
		}, []string{"resource", "outcome"}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.dedups,
		c.invalidations,
		c.fetchFailures,
		c.mutations,
		c.apiLatency,
		c.apiStatus,
		c.cacheEvictions,
		c.prefetches,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(resource string) {
	c.cacheHits.WithLabelValues(resource).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(resource string) {
	c.cacheMisses.WithLabelValues(resource).Inc()
}

// RecordDedup は実行中の取得への合流を記録する。
func (c *Collector) RecordDedup(resource string) {
	c.dedups.WithLabelValues(resource).Inc()
}

// RecordInvalidation はリソースの無効化を記録する。
func (c *Collector) RecordInvalidation(resource string) {
	c.invalidations.WithLabelValues(resource).Inc()
}

// RecordFetchFailure は読み取り失敗を記録する。
func (c *Collector) RecordFetchFailure(resource, kind string) {
	c.fetchFailures.WithLabelValues(resource, kind).Inc()
}

// RecordMutation は書き込みの結果を記録する。
func (c *Collector) RecordMutation(resource, operation, outcome string) {
	c.mutations.WithLabelValues(resource, operation, outcome).Inc()
}

// ObserveAPIRequest はリモートAPI呼び出しのレイテンシとステータスを記録する。
func (c *Collector) ObserveAPIRequest(resource, method string, status int, duration time.Duration) {
	c.apiLatency.WithLabelValues(resource, method).Observe(duration.Seconds())
	c.apiStatus.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordCacheEvictions はGCで破棄したエントリ数を記録する。
func (c *Collector) RecordCacheEvictions(count int) {
	c.cacheEvictions.Add(float64(count))
}

// RecordPrefetch は先読みの結果を記録する。
func (c *Collector) RecordPrefetch(resource, outcome string) {
	c.prefetches.WithLabelValues(resource, outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
