package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// TokenSource yields a usable access token. *goGuard.Guard implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Transport authenticates outgoing API requests. It asks Source for a token
// before every request, so stale tokens are refreshed first; when Source has
// none the request is not sent.
type Transport struct {
	// Base performs the request. nil means http.DefaultTransport.
	Base   http.RoundTripper
	Source TokenSource
}

// RoundTrip implements http.RoundTripper. An error from Source is returned
// unchanged in meaning: errors.Is(err, goGuard.ErrUnauthenticated) holds when
// the guard found no usable session.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source == nil {
		closeBody(req)
		return nil, fmt.Errorf("transport: %w", goGuard.ErrUnauthenticated)
	}

	token, err := t.Source.AccessToken(req.Context())
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("transport: %w", err)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

// NewClient returns an *http.Client whose requests carry the guard's token.
func NewClient(g *goGuard.Guard, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Base: base, Source: g}}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
