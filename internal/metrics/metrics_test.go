package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegistrationPanics は同じレジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

// TestCacheCounters_ArePerResource はキャッシュ系カウンタがリソース別に増加することを検証する。
func TestCacheCounters_ArePerResource(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCacheHit("appointments")
	c.RecordCacheHit("appointments")
	c.RecordCacheHit("doctors")
	c.RecordCacheMiss("appointments")
	c.RecordDedup("appointments")
	c.RecordInvalidation("patients")

	if v := findMetric(t, reg, "careportal_cache_hits_total", map[string]string{"resource": "appointments"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("hits{appointments} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "careportal_cache_hits_total", map[string]string{"resource": "doctors"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("hits{doctors} = %v, want 1", v)
	}
	if v := findMetric(t, reg, "careportal_cache_misses_total", map[string]string{"resource": "appointments"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("misses = %v, want 1", v)
	}
	if v := findMetric(t, reg, "careportal_cache_dedup_total", map[string]string{"resource": "appointments"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("dedup = %v, want 1", v)
	}
	if v := findMetric(t, reg, "careportal_cache_invalidations_total", map[string]string{"resource": "patients"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("invalidations = %v, want 1", v)
	}
}

// TestRecordFetchFailure_LabelsKind は読み取り失敗がエラー分類付きで記録されることを検証する。
func TestRecordFetchFailure_LabelsKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchFailure("payments", "network")

	m := findMetric(t, reg, "careportal_fetch_failures_total", map[string]string{"resource": "payments", "kind": "network"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("fetch_failures = %v, want 1", v)
	}
}

// TestRecordMutation_LabelsOutcome は書き込み結果が記録されることを検証する。
func TestRecordMutation_LabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMutation("appointments", "create", "success")
	c.RecordMutation("appointments", "create", "failure")
	c.RecordMutation("appointments", "create", "failure")

	m := findMetric(t, reg, "careportal_mutations_total", map[string]string{"resource": "appointments", "operation": "create", "outcome": "failure"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("mutations{failure} = %v, want 2", v)
	}
}

// TestObserveAPIRequest_RecordsLatencyAndStatus はAPI呼び出しのレイテンシとステータスが記録されることを検証する。
func TestObserveAPIRequest_RecordsLatencyAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveAPIRequest("doctors", "GET", 200, 150*time.Millisecond)
	c.ObserveAPIRequest("doctors", "GET", 0, 2*time.Second)

	h := findMetric(t, reg, "careportal_api_request_duration_seconds", map[string]string{"resource": "doctors", "method": "GET"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 2.1 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample sum = %v, want ~2.15", h.GetSampleSum())
	}
	if v := findMetric(t, reg, "careportal_api_http_status_total", map[string]string{"status_code": "0"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("status{0} = %v, want 1", v)
	}
}

// TestWorkerCounters はワーカー系メトリクスが記録されることを検証する。
func TestWorkerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCacheEvictions(3)
	c.RecordCacheEvictions(0)
	c.RecordPrefetch("appointments", "success")

	if v := findMetric(t, reg, "careportal_cache_evictions_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("evictions = %v, want 3", v)
	}
	if v := findMetric(t, reg, "careportal_prefetch_total", map[string]string{"resource": "appointments", "outcome": "success"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("prefetch = %v, want 1", v)
	}
}
