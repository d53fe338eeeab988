package query

// MetricsRecorder はキャッシュと書き込みの計測値を記録するインターフェース。
// internal/metrics.Collectorが実装する。
type MetricsRecorder interface {
	RecordCacheHit(resource string)
	RecordCacheMiss(resource string)
	RecordDedup(resource string)
	RecordInvalidation(resource string)
	RecordFetchFailure(resource, kind string)
	RecordMutation(resource, operation, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit(string) {}
func (nopMetrics) RecordCacheMiss(string) {}
func (nopMetrics) RecordDedup(string) {}
func (nopMetrics) RecordInvalidation(string) {}
func (nopMetrics) RecordFetchFailure(string, string) {}
func (nopMetrics) RecordMutation(string, string, string) {}
