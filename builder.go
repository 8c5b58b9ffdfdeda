package goGuard

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/redact"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/store"
)

// Builder assembles a Guard.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	store      store.Store
	refresher  Refresher
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
//
// WithConfig does not mutate shared global state; cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore injects the secure store. Without one the guard keeps tokens in
// a process-local store.Memory.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRefresher replaces the HTTP refresh client, e.g. with a fake in tests.
// Config.Refresh.URL is still validated but not used.
func (b *Builder) WithRefresher(r Refresher) *Builder {
	b.refresher = r
	return b
}

// WithHTTPClient sets the client the default refresher sends requests with.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the sink audit events are delivered to when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the wall clock used for freshness decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Guard.
//
// Build may return an error when configuration validation or decoder setup
// fails. A Builder can be built once.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	decoder, err := jwt.NewDecoder(jwt.DecoderConfig{
		VerifyMethod: jwt.SigningMethod(cfg.Token.VerifyMethod),
		VerifyKey:    cloneBytes(cfg.Token.VerifyKey),
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	refresher := b.refresher
	if refresher == nil {
		client, err := refresh.NewClient(refresh.Config{
			URL:        cfg.Refresh.URL,
			HTTPClient: b.httpClient,
			UserAgent:  cfg.Refresh.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		refresher = client
	}

	s := b.store
	if s == nil {
		s = store.NewMemory()
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	g := &Guard{
		config:    cfg,
		store:     s,
		refresher: refresher,
		decoder:   decoder,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       now,
	}
	g.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	logger.Debug("session guard built",
		slog.String("refresh_url", redact.URL(cfg.Refresh.URL)),
		slog.String("freshness_policy", cfg.Freshness.Policy.String()),
		slog.Duration("freshness_window", cfg.Freshness.Window),
		slog.Bool("verify_signature", decoder.Verifies()))

	b.built = true
	return g, nil
}
