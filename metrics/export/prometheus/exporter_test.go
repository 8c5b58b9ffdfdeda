package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/store"
)

type fakeSource struct {
	snapshot goGuard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters:   map[goGuard.MetricID]uint64{},
			Histograms: map[goGuard.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricRefreshSuccess: 7,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"goguard_refresh_success_total 7",
		"goguard_check_total 0",
		"goguard_refresh_latency_seconds_bucket{le=\"0.025\"} 1",
		"goguard_refresh_latency_seconds_bucket{le=\"+Inf\"} 36",
		"goguard_refresh_latency_seconds_count 36",
		"goguard_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters:   map[goGuard.MetricID]uint64{goGuard.MetricCheck: 1},
			Histograms: map[goGuard.MetricID][]uint64{},
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

type noTokenRefresher struct{}

func (noTokenRefresher) Refresh(context.Context, *string) (refresh.TokenPair, error) {
	return refresh.TokenPair{}, refresh.ErrTransport
}

func TestExporterReadsGuard(t *testing.T) {
	cfg := goGuard.DefaultConfig()
	cfg.Refresh.URL = "https://api.example.test/auth/refresh"
	cfg.Metrics.Enabled = true

	g, err := goGuard.New().
		WithConfig(cfg).
		WithStore(store.NewMemory()).
		WithRefresher(noTokenRefresher{}).
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }).
		Build()
	if err != nil {
		t.Fatalf("build guard: %v", err)
	}
	defer g.Close()

	if g.CheckAndRefresh(context.Background()) {
		t.Fatalf("expected empty store to be unauthenticated")
	}

	out := NewPrometheusExporter(g).Render()
	if !strings.Contains(out, "goguard_check_total 1") || !strings.Contains(out, "goguard_check_no_token_total 1") {
		t.Fatalf("expected check counters, got:\n%s", out)
	}
}

func TestRenderLabeledSources(t *testing.T) {
	exp := NewPrometheusExporterFromSource(nil)

	laptop := fakeSource{snapshot: goGuard.MetricsSnapshot{
		Counters:   map[goGuard.MetricID]uint64{goGuard.MetricRefreshAttempt: 2},
		Histograms: map[goGuard.MetricID][]uint64{goGuard.MetricRefreshLatency: {2}},
	}}
	phone := fakeSource{snapshot: goGuard.MetricsSnapshot{
		Counters: map[goGuard.MetricID]uint64{goGuard.MetricRefreshAttempt: 5},
	}}
	if err := exp.AddSource(laptop, map[string]string{"device": "laptop", "app": "cli"}); err != nil {
		t.Fatalf("AddSource laptop: %v", err)
	}
	if err := exp.AddSource(phone, map[string]string{"device": `ph"one`}); err != nil {
		t.Fatalf("AddSource phone: %v", err)
	}

	out := exp.Render()
	for _, want := range []string{
		`goguard_refresh_attempt_total{app="cli",device="laptop"} 2`,
		`goguard_refresh_attempt_total{device="ph\"one"} 5`,
		`goguard_refresh_latency_seconds_bucket{app="cli",device="laptop",le="0.025"} 2`,
		`goguard_refresh_latency_seconds_count{device="ph\"one"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "# TYPE goguard_refresh_attempt_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line per metric, got %d", n)
	}
}

func TestAddSourceRejectsBadLabels(t *testing.T) {
	exp := NewPrometheusExporterFromSource(nil)
	src := fakeSource{}

	for _, name := range []string{"le", "__name", "1device", "dev-ice"} {
		if err := exp.AddSource(src, map[string]string{name: "x"}); err == nil {
			t.Fatalf("expected label %q to be rejected", name)
		}
	}
	if err := exp.AddSource(nil, nil); err == nil {
		t.Fatalf("expected nil source to be rejected")
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricCheck:           1000,
				goGuard.MetricCheckValid:      900,
				goGuard.MetricRefreshAttempt:  100,
				goGuard.MetricRefreshSuccess:  95,
				goGuard.MetricRefreshRejected: 5,
				goGuard.MetricTokensCleared:   5,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricRefreshLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
