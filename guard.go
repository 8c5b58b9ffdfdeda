package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/redact"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const refreshFlightKey = "refresh"

// Guard decides whether the locally stored access token is usable and
// refreshes it once when it is stale. Build one with [New]; methods are safe
// for concurrent use.
type Guard struct {
	config    Config
	store     store.Store
	refresher Refresher
	decoder   *jwt.Decoder
	flight    singleflight.Group
	audit     *audit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// refreshResult is shared by every caller that joined one refresh.
type refreshResult struct {
	leader      string
	outcome     Outcome
	accessToken string
	expiresAt   time.Time
}

// CheckAndRefresh reports whether the caller holds a usable access token,
// refreshing it once if it is stale. Every failure collapses to false.
func (g *Guard) CheckAndRefresh(ctx context.Context) bool {
	res, _ := g.Check(ctx)
	return res.Authenticated
}

// Check runs the same procedure as CheckAndRefresh and reports the outcome
// with its classified error (ErrNoStoredToken, ErrMalformedToken,
// ErrRefreshRejected, ErrTransportFailure or ErrStoreUnavailable).
func (g *Guard) Check(ctx context.Context) (Result, error) {
	res, _, err := g.check(ctx)
	return res, err
}

// AccessToken returns a usable access token, refreshing first if needed.
// When none is available the error wraps ErrUnauthenticated and the cause.
func (g *Guard) AccessToken(ctx context.Context) (string, error) {
	res, token, err := g.check(ctx)
	if !res.Authenticated {
		if err == nil {
			err = ErrMalformedToken
		}
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return token, nil
}

func (g *Guard) check(ctx context.Context) (Result, string, error) {
	if g == nil || g.store == nil || g.decoder == nil {
		return Result{}, "", ErrGuardNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := Result{CheckID: uuid.NewString()}
	log := g.logger.With(slog.String("check_id", res.CheckID))
	g.metricInc(MetricCheck)

	token, err := g.store.Get(ctx, g.config.Storage.AccessTokenKey)
	if errors.Is(err, store.ErrNotFound) || (err == nil && token == "") {
		g.metricInc(MetricCheckNoToken)
		log.Debug("no stored access token")
		res.Outcome = OutcomeNoToken
		return res, "", ErrNoStoredToken
	}
	if err != nil {
		g.metricInc(MetricCheckStoreFailure)
		log.Warn("secure store read failed", slog.String("key", g.config.Storage.AccessTokenKey), slog.Any("error", err))
		res.Outcome = OutcomeStoreFailure
		return res, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	claims, err := g.decoder.Decode(token)
	if err != nil {
		g.metricInc(MetricCheckMalformed)
		log.Debug("stored access token not decodable",
			slog.String("token", redact.Token(token)), slog.Any("error", err))
		res.Outcome = OutcomeMalformed
		return res, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	expiry := g.expiryOf(claims)
	if !g.now().After(expiry) {
		g.metricInc(MetricCheckValid)
		log.Debug("access token fresh", slog.Time("expires_at", expiry))
		res.Outcome = OutcomeValid
		res.Authenticated = true
		res.ExpiresAt = expiry
		return res, token, nil
	}

	log.Debug("access token stale", slog.Time("expired_at", expiry),
		slog.String("token", redact.Token(token)))
	return g.awaitRefresh(ctx, res, log)
}

// expiryOf computes the instant after which the token is stale.
func (g *Guard) expiryOf(c *jwt.Claims) time.Time {
	if g.config.Freshness.Policy == PolicyExpiry {
		if exp, ok := c.ExpiresAtTime(); ok {
			return exp
		}
	}
	return c.IssuedAtTime().Add(g.config.Freshness.Window)
}

func (g *Guard) awaitRefresh(ctx context.Context, res Result, log *slog.Logger) (Result, string, error) {
	checkID := res.CheckID
	ch := g.flight.DoChan(refreshFlightKey, func() (interface{}, error) {
		return g.runRefresh(checkID)
	})

	select {
	case r := <-ch:
		shared, _ := r.Val.(refreshResult)
		if shared.leader != checkID {
			g.metricInc(MetricRefreshShared)
			log.Debug("joined in-flight refresh", slog.String("leader_check_id", shared.leader))
		}
		res.Outcome = shared.outcome
		if r.Err != nil {
			return res, "", r.Err
		}
		res.Authenticated = true
		res.ExpiresAt = shared.expiresAt
		return res, shared.accessToken, nil
	case <-ctx.Done():
		// The shared refresh keeps running and settles storage for everyone.
		log.Debug("caller stopped waiting for refresh", slog.Any("error", ctx.Err()))
		res.Outcome = OutcomeTransportFailure
		return res, "", fmt.Errorf("%w: %w", ErrTransportFailure, ctx.Err())
	}
}

// runRefresh performs the single shared refresh. It runs detached from any
// caller's context and is bounded by Refresh.Timeout.
func (g *Guard) runRefresh(leader string) (refreshResult, error) {
	out := refreshResult{leader: leader}
	log := g.logger.With(slog.String("check_id", leader))

	ctx, cancel := context.WithTimeout(context.Background(), g.config.Refresh.Timeout)
	defer cancel()

	// A caller that read the stale token before the previous refresh settled
	// lands here after it; the stored state already answers for it.
	current, err := g.store.Get(ctx, g.config.Storage.AccessTokenKey)
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && current == ""):
		out.outcome = OutcomeNoToken
		return out, ErrNoStoredToken
	case err == nil:
		if claims, decErr := g.decoder.Decode(current); decErr == nil {
			if expiry := g.expiryOf(claims); !g.now().After(expiry) {
				out.outcome = OutcomeValid
				out.accessToken = current
				out.expiresAt = expiry
				return out, nil
			}
		}
	}

	var refreshToken *string
	stored, err := g.store.Get(ctx, g.config.Storage.RefreshTokenKey)
	switch {
	case err == nil && stored != "":
		refreshToken = &stored
	case err == nil, errors.Is(err, store.ErrNotFound):
		log.Debug("no stored refresh token; sending null")
	default:
		g.metricInc(MetricCheckStoreFailure)
		log.Warn("secure store read failed", slog.String("key", g.config.Storage.RefreshTokenKey), slog.Any("error", err))
		out.outcome = OutcomeStoreFailure
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		g.emitAudit(ctx, auditEventRefreshStoreFailure, leader, out.outcome, false, err, nil)
		return out, err
	}

	g.metricInc(MetricRefreshAttempt)
	start := g.now()
	pair, err := g.refresher.Refresh(ctx, refreshToken)
	g.metricObserve(MetricRefreshLatency, g.now().Sub(start))

	if err == nil && (pair.AccessToken == "" || pair.RefreshToken == "") {
		err = fmt.Errorf("%w: empty token in pair", refresh.ErrMalformedResponse)
	}
	if err != nil {
		return g.refreshFailed(out, log, err)
	}

	if err := g.persist(pair); err != nil {
		g.metricInc(MetricCheckStoreFailure)
		log.Warn("persisting refreshed tokens failed", slog.Any("error", err))
		out.outcome = OutcomeStoreFailure
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		g.emitAudit(ctx, auditEventRefreshStoreFailure, leader, out.outcome, false, err, nil)
		g.clearTokens(leader, log)
		return out, err
	}

	g.metricInc(MetricRefreshSuccess)
	out.outcome = OutcomeRefreshed
	out.accessToken = pair.AccessToken
	if claims, err := g.decoder.Decode(pair.AccessToken); err == nil {
		out.expiresAt = g.expiryOf(claims)
	}
	log.Info("access token refreshed",
		slog.String("token", redact.Token(pair.AccessToken)),
		slog.Duration("latency", g.now().Sub(start)))
	g.emitAudit(ctx, auditEventRefreshSuccess, leader, out.outcome, true, nil, nil)
	return out, nil
}

func (g *Guard) refreshFailed(out refreshResult, log *slog.Logger, cause error) (refreshResult, error) {
	var err error
	var eventType string
	metadata := func() map[string]string { return nil }

	if errors.Is(cause, refresh.ErrRejected) || errors.Is(cause, refresh.ErrMalformedResponse) {
		g.metricInc(MetricRefreshRejected)
		out.outcome = OutcomeRefreshRejected
		eventType = auditEventRefreshRejected
		err = fmt.Errorf("%w: %v", ErrRefreshRejected, cause)

		var rejected *refresh.RejectedError
		if errors.As(cause, &rejected) {
			status := rejected.StatusCode
			metadata = func() map[string]string {
				return map[string]string{"status": fmt.Sprint(status)}
			}
		}
		log.Warn("refresh rejected", slog.Any("error", cause))
	} else {
		g.metricInc(MetricRefreshTransportFailure)
		out.outcome = OutcomeTransportFailure
		eventType = auditEventRefreshTransportFailure
		err = fmt.Errorf("%w: %v", ErrTransportFailure, cause)
		log.Warn("refresh transport failure", slog.Any("error", cause))
	}

	g.emitAudit(context.Background(), eventType, out.leader, out.outcome, false, err, metadata)
	g.clearTokens(out.leader, log)
	return out, err
}

// persist writes the access token first, then the refresh token.
func (g *Guard) persist(pair TokenPair) error {
	ctx, cancel := g.storeContext()
	defer cancel()

	if err := g.store.Set(ctx, g.config.Storage.AccessTokenKey, pair.AccessToken); err != nil {
		return err
	}
	return g.store.Set(ctx, g.config.Storage.RefreshTokenKey, pair.RefreshToken)
}

// clearTokens deletes both keys on a fresh context so that an expired refresh
// deadline cannot prevent failing closed.
func (g *Guard) clearTokens(checkID string, log *slog.Logger) {
	ctx, cancel := g.storeContext()
	defer cancel()

	g.metricInc(MetricTokensCleared)
	err := store.DeleteAll(ctx, g.store, g.config.Storage.AccessTokenKey, g.config.Storage.RefreshTokenKey)
	if err != nil {
		log.Error("clearing stored tokens failed", slog.Any("error", err))
	} else {
		log.Warn("stored tokens cleared")
	}
	g.emitAudit(ctx, auditEventTokensCleared, checkID, OutcomeUnknown, err == nil, err, nil)
}

func (g *Guard) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.config.Refresh.Timeout)
}

// StoreTokens persists a pair obtained from sign-in.
func (g *Guard) StoreTokens(ctx context.Context, pair TokenPair) error {
	if g == nil || g.store == nil {
		return ErrGuardNotReady
	}
	if strings.TrimSpace(pair.AccessToken) == "" || strings.TrimSpace(pair.RefreshToken) == "" {
		return errors.New("token pair must carry both tokens")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.store.Set(ctx, g.config.Storage.AccessTokenKey, pair.AccessToken); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := g.store.Set(ctx, g.config.Storage.RefreshTokenKey, pair.RefreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.metricInc(MetricTokensStored)
	g.emitAudit(ctx, auditEventTokensStored, "", OutcomeUnknown, true, nil, nil)
	return nil
}

// SignOut deletes both stored tokens. Signing out twice is not an error.
func (g *Guard) SignOut(ctx context.Context) error {
	if g == nil || g.store == nil {
		return ErrGuardNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := store.DeleteAll(ctx, g.store, g.config.Storage.AccessTokenKey, g.config.Storage.RefreshTokenKey)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	} else {
		g.metricInc(MetricSignOut)
		g.logger.Info("signed out")
	}
	g.emitAudit(ctx, auditEventSignOut, "", OutcomeUnknown, err == nil, err, nil)
	return err
}

// Close flushes pending audit events. The injected store is left open.
func (g *Guard) Close() {
	if g == nil {
		return
	}
	g.audit.Close()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (g *Guard) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the guard's counters.
func (g *Guard) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// Config returns a copy of the configuration the guard was built with.
func (g *Guard) Config() Config {
	if g == nil {
		return Config{}
	}
	return cloneConfig(g.config)
}

func (g *Guard) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func (g *Guard) metricObserve(id MetricID, d time.Duration) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Observe(id, d)
}
