package goGuard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of a Guard. Build it from DefaultConfig or
// LoadConfigFromEnv and treat it as immutable once handed to a Builder.
type Config struct {
	Refresh   RefreshConfig   `envPrefix:"REFRESH_"`
	Freshness FreshnessConfig `envPrefix:"FRESHNESS_"`
	Storage   StorageConfig
	Token     TokenConfig   `envPrefix:"TOKEN_"`
	Audit     AuditConfig   `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig `envPrefix:"METRICS_"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig describes the backend token-refresh endpoint.
type RefreshConfig struct {
	URL       string        `env:"URL"`
	Timeout   time.Duration `env:"TIMEOUT"`
	UserAgent string        `env:"USER_AGENT"`
}

/*
====================================
FRESHNESS CONFIG
====================================
*/

// FreshnessPolicy selects how the expiry instant of an access token is computed.
type FreshnessPolicy int

const (
	// PolicyIssuedAt computes expiry as iat + Window and ignores exp.
	PolicyIssuedAt FreshnessPolicy = iota
	// PolicyExpiry uses the exp claim when present and falls back to iat + Window.
	PolicyExpiry
)

func (p FreshnessPolicy) String() string {
	switch p {
	case PolicyIssuedAt:
		return "iat"
	case PolicyExpiry:
		return "exp"
	default:
		return fmt.Sprintf("FreshnessPolicy(%d)", int(p))
	}
}

// UnmarshalText accepts "iat" and "exp" (case-insensitive).
func (p *FreshnessPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "iat", "issued_at", "":
		*p = PolicyIssuedAt
	case "exp", "expiry":
		*p = PolicyExpiry
	default:
		return fmt.Errorf("unknown freshness policy %q", string(text))
	}
	return nil
}

// FreshnessConfig controls the validity decision.
type FreshnessConfig struct {
	Policy FreshnessPolicy `env:"POLICY"`
	Window time.Duration   `env:"WINDOW"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig names the secure-store keys the guard reads and writes.
type StorageConfig struct {
	AccessTokenKey  string `env:"ACCESS_TOKEN_KEY"`
	RefreshTokenKey string `env:"REFRESH_TOKEN_KEY"`
}

// TokenConfig enables optional signature verification of stored access tokens.
// An empty VerifyMethod decodes tokens without verification.
type TokenConfig struct {
	VerifyMethod string `env:"VERIFY_METHOD"` // "", "ed25519" or "hs256"
	VerifyKey    []byte
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

const (
	// DefaultFreshnessWindow is the fixed lifetime assumed for an access token
	// measured from its iat claim.
	DefaultFreshnessWindow = 300 * time.Second
	// DefaultRefreshTimeout bounds a single refresh round trip.
	DefaultRefreshTimeout = 10 * time.Second

	envPrefix = "GOGUARD_"
)

// DefaultConfig returns the configuration matching the observed mobile client:
// iat + 300s freshness, "accessToken"/"refreshToken" keys, audit and metrics off.
func DefaultConfig() Config {
	return Config{
		Refresh: RefreshConfig{
			Timeout:   DefaultRefreshTimeout,
			UserAgent: "goguard/1",
		},
		Freshness: FreshnessConfig{
			Policy: PolicyIssuedAt,
			Window: DefaultFreshnessWindow,
		},
		Storage: StorageConfig{
			AccessTokenKey:  "accessToken",
			RefreshTokenKey: "refreshToken",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// LoadConfigFromEnv overlays GOGUARD_* environment variables on DefaultConfig
// and validates the result.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(env.Options{Prefix: envPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.VerifyKey = cloneBytes(cfg.Token.VerifyKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// Refresh
	if strings.TrimSpace(c.Refresh.URL) == "" {
		return errors.New("refresh URL required")
	}
	u, err := url.Parse(c.Refresh.URL)
	if err != nil {
		return fmt.Errorf("invalid refresh URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("refresh URL must use http or https")
	}
	if u.Host == "" {
		return errors.New("refresh URL must include a host")
	}
	if c.Refresh.Timeout <= 0 || c.Refresh.Timeout > 2*time.Minute {
		return errors.New("refresh timeout must be in (0, 2m]")
	}

	// Freshness
	switch c.Freshness.Policy {
	case PolicyIssuedAt, PolicyExpiry:
	default:
		return errors.New("invalid freshness policy")
	}
	if c.Freshness.Window <= 0 || c.Freshness.Window > 24*time.Hour {
		return errors.New("freshness window must be in (0, 24h]")
	}
	if c.Freshness.Window%time.Second != 0 {
		return errors.New("freshness window must be a whole number of seconds")
	}

	// Storage
	if strings.TrimSpace(c.Storage.AccessTokenKey) == "" || strings.TrimSpace(c.Storage.RefreshTokenKey) == "" {
		return errors.New("storage keys must not be empty")
	}
	if c.Storage.AccessTokenKey == c.Storage.RefreshTokenKey {
		return errors.New("access and refresh token keys must differ")
	}

	// Token verification
	switch strings.ToLower(c.Token.VerifyMethod) {
	case "":
		if len(c.Token.VerifyKey) > 0 {
			return errors.New("verify key set without verify method")
		}
	case "ed25519", "hs256":
		if len(c.Token.VerifyKey) == 0 {
			return errors.New("verify method requires verify key")
		}
	default:
		return errors.New("unsupported verify method")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when audit is enabled")
	}

	return nil
}
