package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authd"
)

type fakeSource struct {
	snapshot authd.MetricsSnapshot
	stats    authd.RetryStats
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authd.MetricsSnapshot { return f.snapshot }
func (f fakeSource) RetryStats() authd.RetryStats           { return f.stats }
func (f fakeSource) AuditDropped() uint64                   { return f.dropped }

func TestRenderDisabledMetricsStillExportsRetryStats(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: authd.MetricsSnapshot{
			Counters:   map[authd.MetricID]uint64{},
			Histograms: map[authd.MetricID][]uint64{},
		},
		stats: authd.RetryStats{TotalAttempts: 4, ConflictsObserved: 1},
	})

	out := exp.Render()
	if strings.Contains(out, "authd_login_success_total") {
		t.Fatalf("expected no flow counters when metrics are disabled, got:\n%s", out)
	}
	if !strings.Contains(out, "authd_retry_attempts_total 4") {
		t.Fatalf("expected retry attempts in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authd_retry_conflicts_total 1") {
		t.Fatalf("expected retry conflicts in output, got:\n%s", out)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: authd.MetricsSnapshot{
			Counters: map[authd.MetricID]uint64{
				authd.MetricLoginSuccess:  7,
				authd.MetricRefreshReplay: 2,
			},
			Histograms: map[authd.MetricID][]uint64{
				authd.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"authd_login_success_total 7",
		"authd_refresh_replay_total 2",
		"authd_logout_total 0",
		"authd_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"authd_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"authd_validate_latency_seconds_count 36",
		"authd_audit_dropped_total 2",
		"# TYPE authd_login_success_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderNilExporter(t *testing.T) {
	var exp *Exporter
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: authd.MetricsSnapshot{
			Counters: map[authd.MetricID]uint64{authd.MetricLoginSuccess: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: authd.MetricsSnapshot{
			Counters: map[authd.MetricID]uint64{
				authd.MetricLoginSuccess:   1000,
				authd.MetricLoginFailure:   40,
				authd.MetricRefreshSuccess: 800,
				authd.MetricSessionCreated: 800,
			},
			Histograms: map[authd.MetricID][]uint64{
				authd.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
