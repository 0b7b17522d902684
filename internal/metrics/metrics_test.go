package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrement(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("requests", nil, "Total requests")
	r.IncrementCounter("requests", nil, "Total requests")
	r.AddToCounter("requests", 3, nil, "Total requests")

	all := r.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)

	require.Contains(t, counters, "requests")
	assert.Equal(t, float64(5), counters["requests"].Value)
	assert.Equal(t, Counter, counters["requests"].Type)
}

func TestCounterLabelsProduceSeparateSeries(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("responses", map[string]string{"status_code": "200"}, "")
	r.IncrementCounter("responses", map[string]string{"status_code": "500"}, "")
	r.IncrementCounter("responses", map[string]string{"status_code": "200"}, "")

	all := r.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)

	assert.Equal(t, float64(2), counters["responses_status_code:200"].Value)
	assert.Equal(t, float64(1), counters["responses_status_code:500"].Value)
}

func TestMetricKeyLabelOrderIsDeterministic(t *testing.T) {
	a := metricKey("m", map[string]string{"x": "1", "y": "2"})
	b := metricKey("m", map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}

func TestRecordTimer(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("op_duration", 10*time.Millisecond, nil, "")
	r.RecordTimer("op_duration", 30*time.Millisecond, nil, "")
	r.RecordTimer("op_duration", 20*time.Millisecond, nil, "")

	all := r.GetAllMetrics()
	timers := all["timers"].(map[string]*TimerMetric)

	timer := timers["op_duration"]
	require.NotNil(t, timer)
	assert.Equal(t, int64(3), timer.Count)
	assert.Equal(t, float64(10), timer.Min)
	assert.Equal(t, float64(30), timer.Max)
	assert.InDelta(t, 20, timer.Average, 0.01)
}

func TestTimerPercentile(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 100; i++ {
		r.RecordTimer("latency", time.Duration(i)*time.Millisecond, nil, "")
	}

	all := r.GetAllMetrics()
	timers := all["timers"].(map[string]*TimerMetric)

	assert.InDelta(t, 96, timers["latency"].P95, 1.5)
}

func TestSetGauge(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("backlog", 12, nil, "Pending backlog")
	r.SetGauge("backlog", 7, nil, "Pending backlog")

	all := r.GetAllMetrics()
	gauges := all["gauges"].(map[string]*Metric)

	assert.Equal(t, float64(7), gauges["backlog"].Value)
	assert.Equal(t, Gauge, gauges["backlog"].Type)
}

func TestGetAllMetricsShape(t *testing.T) {
	r := NewRegistry()
	all := r.GetAllMetrics()

	assert.Contains(t, all, "counters")
	assert.Contains(t, all, "timers")
	assert.Contains(t, all, "gauges")
	assert.Contains(t, all, "uptime_ms")
	assert.Contains(t, all, "timestamp")
}

func TestGlobalRegistryConvenience(t *testing.T) {
	IncrementCounter("global_test_counter", nil, "")
	SetGauge("global_test_gauge", 1, nil, "")
	RecordTimer("global_test_timer", time.Millisecond, nil, "")

	all := GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)
	assert.Contains(t, counters, "global_test_counter")
}

func TestCopyLabelsIsolation(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"k": "v"}

	r.IncrementCounter("isolated", labels, "")
	labels["k"] = "mutated"

	all := r.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)
	assert.Equal(t, "v", counters["isolated_k:v"].Labels["k"])
}
