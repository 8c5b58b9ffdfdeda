package goGuard

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/store"
)

var testNow = time.Unix(1_700_000_000, 0)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Refresh.URL = "https://api.example.test/auth/refresh"
	return cfg
}

func mintToken(t testing.TB, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	signer, err := jwt.NewSigner(jwt.SignerConfig{Method: jwt.MethodHS256, PrivateKey: testSigningKey})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, err := signer.Sign("user-1", issuedAt, ttl)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func freshToken(t testing.TB) string {
	return mintToken(t, testNow, 0)
}

func staleToken(t testing.TB) string {
	return mintToken(t, testNow.Add(-DefaultFreshnessWindow-time.Second), 0)
}

// unsignedToken wraps payload in an alg=none compact token.
func unsignedToken(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(payload)) + "."
}

type fakeRefresher struct {
	calls atomic.Int32

	mu   sync.Mutex
	sent []*string
	pair TokenPair
	err  error
	gate chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken *string) (TokenPair, error) {
	f.calls.Add(1)

	f.mu.Lock()
	if refreshToken != nil {
		v := *refreshToken
		f.sent = append(f.sent, &v)
	} else {
		f.sent = append(f.sent, nil)
	}
	gate := f.gate
	pair, err := f.pair, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return TokenPair{}, fmt.Errorf("%w: %v", refresh.ErrTransport, ctx.Err())
		}
	}
	return pair, err
}

func (f *fakeRefresher) lastSent() *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// faultyStore wraps a Memory store and injects per-key failures.
type faultyStore struct {
	mem     *store.Memory
	mu      sync.Mutex
	getErr  map[string]error
	setErr  map[string]error
	deletes int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		mem:    store.NewMemory(),
		getErr: map[string]error{},
		setErr: map[string]error{},
	}
}

func (s *faultyStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	err := s.getErr[key]
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.mem.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	err := s.setErr[key]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.Set(ctx, key, value)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.mem.Delete(ctx, key)
}

func (s *faultyStore) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

var errDiskOnFire = errors.New("disk on fire")

func newTestGuard(t *testing.T, s store.Store, r Refresher, mutate func(*Config)) *Guard {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b := New().WithConfig(cfg).WithStore(s).WithClock(func() time.Time { return testNow })
	if r != nil {
		b = b.WithRefresher(r)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build guard: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func seed(t *testing.T, s store.Store, access, refreshToken string) {
	t.Helper()
	ctx := context.Background()
	if access != "" {
		if err := s.Set(ctx, "accessToken", access); err != nil {
			t.Fatalf("seed access token: %v", err)
		}
	}
	if refreshToken != "" {
		if err := s.Set(ctx, "refreshToken", refreshToken); err != nil {
			t.Fatalf("seed refresh token: %v", err)
		}
	}
}

func mustGet(t *testing.T, s store.Store, key string) string {
	t.Helper()
	v, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return v
}

func mustBeAbsent(t *testing.T, s store.Store, key string) {
	t.Helper()
	if _, err := s.Get(context.Background(), key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected %s to be absent, got err=%v", key, err)
	}
}

type syncLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
