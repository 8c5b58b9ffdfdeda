package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/fakebackend"
	"github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/store"
)

func main() {
	var (
		devices     = flag.Int("devices", 64, "number of independent devices, each with its own guard and store")
		concurrency = flag.Int("concurrency", 32, "concurrent checks per device per round")
		rounds      = flag.Int("rounds", 20, "rounds; each starts from a stale access token")
		latency     = flag.Duration("latency", 20*time.Millisecond, "artificial refresh endpoint latency")
		storeKind   = flag.String("store", "memory", "store backend: memory or redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		verbose     = flag.Bool("v", false, "debug logging")
		dumpMetrics = flag.Bool("metrics", false, "print per-device Prometheus metrics after the run")
	)
	flag.Parse()

	if *devices <= 0 || *concurrency <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "devices, concurrency, and rounds must be > 0")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	backend, err := fakebackend.New(fakebackend.Options{
		SigningKey: []byte("goguard-loadtest-signing-key-0123"),
		Latency:    *latency,
		Logger:     logger,
	})
	if err != nil {
		fail("backend: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fail("listen: %v", err)
	}
	srv := &http.Server{Handler: backend, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backend stopped", "error", err)
		}
	}()
	defer srv.Close()
	refreshURL := "http://" + ln.Addr().String() + fakebackend.RefreshPath

	newStore, cleanup, err := storeFactory(*storeKind, *redisAddr)
	if err != nil {
		fail("store: %v", err)
	}
	defer cleanup()

	cfg := goGuard.DefaultConfig()
	cfg.Refresh.URL = refreshURL
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	exporter := prometheus.NewPrometheusExporterFromSource(nil)
	guards := make([]*goGuard.Guard, *devices)
	for i := range guards {
		g, err := goGuard.New().
			WithConfig(cfg).
			WithStore(newStore(fmt.Sprintf("device-%d", i))).
			WithLogger(logger).
			Build()
		if err != nil {
			fail("build guard: %v", err)
		}
		defer g.Close()
		guards[i] = g
		if err := exporter.AddSource(g, map[string]string{"device": fmt.Sprintf("device-%d", i)}); err != nil {
			fail("metrics: %v", err)
		}
	}

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, *devices**concurrency**rounds)
		failures  atomic.Int64
	)

	start := time.Now()
	for round := 0; round < *rounds; round++ {
		for i, g := range guards {
			pair, err := backend.Issue(fmt.Sprintf("user-%d", i), time.Now().Add(-goGuard.DefaultFreshnessWindow-time.Second))
			if err != nil {
				fail("issue: %v", err)
			}
			if err := g.StoreTokens(ctx, pair); err != nil {
				fail("seed: %v", err)
			}
		}

		var wg sync.WaitGroup
		for _, g := range guards {
			for w := 0; w < *concurrency; w++ {
				wg.Add(1)
				go func(g *goGuard.Guard) {
					defer wg.Done()
					t0 := time.Now()
					ok := g.CheckAndRefresh(ctx)
					d := time.Since(t0)
					if !ok {
						failures.Add(1)
					}
					mu.Lock()
					latencies = append(latencies, d)
					mu.Unlock()
				}(g)
			}
		}
		wg.Wait()
	}
	total := time.Since(start)

	var shared uint64
	for _, g := range guards {
		shared += g.MetricsSnapshot().Counters[goGuard.MetricRefreshShared]
	}

	s := computeStats(total, latencies, failures.Load())
	fmt.Println("---- results ----")
	printStats("check", s)
	fmt.Printf("refresh calls: received=%d expected=%d shared=%d\n",
		backend.RefreshCalls(), *devices**rounds, shared)

	if *dumpMetrics {
		fmt.Print(exporter.Render())
	}

	if s.failures > 0 || backend.RefreshCalls() != int64(*devices**rounds) {
		os.Exit(1)
	}
}

func storeFactory(kind, addr string) (func(device string) store.Store, func(), error) {
	switch kind {
	case "memory":
		return func(string) store.Store { return store.NewMemory() }, func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	return func(device string) store.Store {
		return store.NewRedis(client, "ggload", device, time.Hour)
	}, cleanup, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
