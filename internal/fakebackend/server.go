package fakebackend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/internal/redact"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/MrEthical07/goGuard/transport"
)

// RefreshPath and MePath are the routes served by Server.
const (
	RefreshPath = "/auth/refresh"
	MePath      = "/api/me"
)

// Options configures a Server.
type Options struct {
	// SigningKey is the HS256 key used for access tokens. Required.
	SigningKey []byte
	// AccessTTL sets exp on minted access tokens; zero omits exp.
	AccessTTL time.Duration
	// Window is how long /api/me accepts a token after its iat. Defaults to 300s.
	Window time.Duration
	// Latency delays every refresh response.
	Latency time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Server is an in-process refresh backend. Refresh tokens are single-use:
// every successful refresh revokes the presented one.
type Server struct {
	signer  *jwt.Signer
	decoder *jwt.Decoder
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]string // refresh token -> subject
	forced   int

	refreshCalls atomic.Int64
	meCalls      atomic.Int64

	router chi.Router
}

// New returns a Server for opts.
func New(opts Options) (*Server, error) {
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("fakebackend: signing key required")
	}
	signer, err := jwt.NewSigner(jwt.SignerConfig{
		Method:     jwt.MethodHS256,
		PrivateKey: opts.SigningKey,
		Issuer:     "fakebackend",
	})
	if err != nil {
		return nil, err
	}
	decoder, err := jwt.NewDecoder(jwt.DecoderConfig{
		VerifyMethod: jwt.MethodHS256,
		VerifyKey:    opts.SigningKey,
	})
	if err != nil {
		return nil, err
	}
	if opts.Window <= 0 {
		opts.Window = 300 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		signer:   signer,
		decoder:  decoder,
		opts:     opts,
		logger:   opts.Logger.With("component", "fakebackend"),
		now:      opts.Now,
		sessions: make(map[string]string),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(RefreshPath, s.handleRefresh)
	r.Get(MePath, s.handleMe)
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Issue signs a session for subject whose access token was issued at
// issuedAt and registers its refresh token.
func (s *Server) Issue(subject string, issuedAt time.Time) (refresh.TokenPair, error) {
	access, err := s.signer.Sign(subject, issuedAt, s.opts.AccessTTL)
	if err != nil {
		return refresh.TokenPair{}, err
	}
	rt := uuid.NewString()

	s.mu.Lock()
	s.sessions[rt] = subject
	s.mu.Unlock()

	return refresh.TokenPair{AccessToken: access, RefreshToken: rt}, nil
}

// ForceStatus makes every refresh answer with code. Zero restores normal
// behavior.
func (s *Server) ForceStatus(code int) {
	s.mu.Lock()
	s.forced = code
	s.mu.Unlock()
}

// Revoke invalidates refreshToken.
func (s *Server) Revoke(refreshToken string) {
	s.mu.Lock()
	delete(s.sessions, refreshToken)
	s.mu.Unlock()
}

// RefreshCalls returns the number of refresh requests received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// MeCalls returns the number of /api/me requests received.
func (s *Server) MeCalls() int64 {
	return s.meCalls.Load()
}

type refreshRequest struct {
	RefreshToken *string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	forced := s.forced
	s.mu.Unlock()
	if forced != 0 {
		writeJSON(w, forced, map[string]string{"message": http.StatusText(forced)})
		return
	}

	var in refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	if in.RefreshToken == nil || *in.RefreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing refresh token"})
		return
	}

	s.mu.Lock()
	subject, ok := s.sessions[*in.RefreshToken]
	if ok {
		delete(s.sessions, *in.RefreshToken)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Info("refresh token rejected", "refresh_token", redact.Token(*in.RefreshToken))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
		return
	}

	pair, err := s.Issue(subject, s.now())
	if err != nil {
		s.logger.Error("issue tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	s.logger.Debug("refresh token rotated", "subject", subject)
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.meCalls.Add(1)

	token, ok := transport.BearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing bearer token"})
		return
	}

	claims, err := s.decoder.Decode(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
		return
	}

	expiry := claims.IssuedAtTime().Add(s.opts.Window)
	if exp, ok := claims.ExpiresAtTime(); ok {
		expiry = exp
	}
	if s.now().After(expiry) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"subject": claims.Subject})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
