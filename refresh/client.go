package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

var (
	// ErrRejected is returned when the endpoint answers with a non-2xx status.
	// The concrete error is a *RejectedError.
	ErrRejected = errors.New("refresh: rejected by server")
	// ErrMalformedResponse is returned when a 2xx body is not JSON or does not
	// carry both tokens.
	ErrMalformedResponse = errors.New("refresh: malformed response")
	// ErrTransport is returned when no response was received.
	ErrTransport = errors.New("refresh: transport failure")
)

// RejectedError describes a non-2xx answer.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("refresh: rejected by server (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("refresh: rejected by server (status %d): %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrRejected) hold for *RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// TokenPair is the credential pair held in secure storage.
type TokenPair struct {
	AccessToken  string `json:"accessToken"  validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type request struct {
	// nil marshals as JSON null; the endpoint still receives the call.
	RefreshToken *string `json:"refreshToken"`
}

type failure struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Config configures a Client.
type Config struct {
	URL        string
	HTTPClient *http.Client
	UserAgent  string
}

// Client calls the token-refresh endpoint.
type Client struct {
	url       string
	http      *http.Client
	userAgent string
	validate  *validator.Validate
}

// NewClient validates cfg and returns a Client. A nil HTTPClient uses
// http.DefaultClient; callers bound the call through the context.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("refresh: url must be absolute http(s)")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		url:       u.String(),
		http:      hc,
		userAgent: cfg.UserAgent,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Refresh exchanges refreshToken for a new pair. A nil refreshToken is sent
// as null.
func (c *Client) Refresh(ctx context.Context, refreshToken *string) (TokenPair, error) {
	body, err := json.Marshal(request{RefreshToken: refreshToken})
	if err != nil {
		return TokenPair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenPair{}, &RejectedError{StatusCode: resp.StatusCode, Message: failureMessage(raw)}
	}
	if len(raw) > maxResponseBytes {
		return TokenPair{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseBytes)
	}

	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.validate.Struct(pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return pair, nil
}

func failureMessage(raw []byte) string {
	if len(raw) == 0 || len(raw) > maxResponseBytes {
		return ""
	}
	var f failure
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	if f.Message != "" {
		return f.Message
	}
	return f.Error
}
