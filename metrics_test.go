package authd

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsDisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)
	assert.Zero(t, m.Value(MetricLoginSuccess))
	assert.Empty(t, m.Snapshot().Counters)

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	assert.False(t, nilMetrics.Enabled())
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(16000), m.Value(MetricLoginSuccess))
	assert.Equal(t, uint64(16000), m.Snapshot().Counters[MetricLoginSuccess])
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricValidateLatency, 3*time.Millisecond)
	m.Observe(MetricValidateLatency, 40*time.Millisecond)
	m.Observe(MetricValidateLatency, time.Second)
	m.Observe(MetricLoginSuccess, time.Second)

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	assert.Equal(t, []uint64{1, 0, 0, 1, 0, 0, 0, 1}, buckets)
	_, hasLatencyCounter := m.Snapshot().Counters[MetricValidateLatency]
	assert.False(t, hasLatencyCounter)
}
