package goGuard

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/store"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricRefreshSuccess)

	if got := m.Value(MetricRefreshSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatal("disabled metrics must snapshot empty")
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricRefreshSuccess)
	m.Inc(MetricRefreshSuccess)
	m.Inc(MetricRefreshSuccess)

	if got := m.Value(MetricRefreshSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricCheck)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricCheck); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		10 * time.Millisecond,
		40 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		9 * time.Second,
	}

	for _, d := range observations {
		m.Observe(MetricRefreshLatency, d)
	}
	// Counters are not histograms.
	m.Observe(MetricCheck, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRefreshLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Counters[MetricRefreshLatency]; ok {
		t.Fatal("latency histogram must not appear among counters")
	}
}

func TestMetricsLatencyDisabledByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricRefreshLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricRefreshLatency]; ok {
		t.Fatal("histogram must be absent when latency histograms are off")
	}
}

func TestGuardMetricsPerOutcome(t *testing.T) {
	s := store.NewMemory()
	r := &fakeRefresher{pair: TokenPair{AccessToken: freshToken(t), RefreshToken: "R2"}}
	g := newTestGuard(t, s, r, func(c *Config) {
		c.Metrics.Enabled = true
		c.Metrics.EnableLatencyHistograms = true
	})
	ctx := context.Background()

	g.CheckAndRefresh(ctx) // no token
	seed(t, s, "garbage", "R1")
	g.CheckAndRefresh(ctx) // malformed
	seed(t, s, staleToken(t), "R1")
	g.CheckAndRefresh(ctx) // refreshed
	g.CheckAndRefresh(ctx) // valid

	r.mu.Lock()
	r.err = &refresh.RejectedError{StatusCode: http.StatusUnauthorized}
	r.mu.Unlock()
	seed(t, s, staleToken(t), "R2")
	g.CheckAndRefresh(ctx) // rejected, cleared

	_ = g.SignOut(ctx)

	snap := g.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricCheck:           5,
		MetricCheckNoToken:    1,
		MetricCheckMalformed:  1,
		MetricCheckValid:      1,
		MetricRefreshAttempt:  2,
		MetricRefreshSuccess:  1,
		MetricRefreshRejected: 1,
		MetricTokensCleared:   1,
		MetricSignOut:         1,
	}
	for id, v := range want {
		if snap.Counters[id] != v {
			t.Fatalf("metric %d: expected %d, got %d", id, v, snap.Counters[id])
		}
	}

	var total uint64
	for _, b := range snap.Histograms[MetricRefreshLatency] {
		total += b
	}
	if total != 2 {
		t.Fatalf("expected 2 latency observations, got %d", total)
	}
}

func TestGuardMetricsSnapshotWhenDisabled(t *testing.T) {
	g := newTestGuard(t, store.NewMemory(), &fakeRefresher{}, nil)
	g.CheckAndRefresh(context.Background())
	if snap := g.MetricsSnapshot(); len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
