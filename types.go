package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/refresh"
)

// Outcome classifies a single session check.
type Outcome uint8

const (
	// OutcomeUnknown is the zero value; no check produced it.
	OutcomeUnknown Outcome = iota
	// OutcomeValid means the stored access token was fresh.
	OutcomeValid
	// OutcomeRefreshed means a stale token was replaced by a refreshed pair.
	OutcomeRefreshed
	// OutcomeNoToken means secure storage held no access token.
	OutcomeNoToken
	// OutcomeMalformed means the stored token could not be decoded or had no iat.
	OutcomeMalformed
	// OutcomeRefreshRejected means the endpoint answered non-2xx or with an
	// invalid body. Both tokens were cleared.
	OutcomeRefreshRejected
	// OutcomeTransportFailure means no refresh response arrived. Both tokens
	// were cleared unless only the caller's own wait was canceled.
	OutcomeTransportFailure
	// OutcomeStoreFailure means secure storage failed.
	OutcomeStoreFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeNoToken:
		return "no_token"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeRefreshRejected:
		return "refresh_rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Result describes the decision of one check.
type Result struct {
	// CheckID correlates log lines and audit events of this check.
	CheckID string
	Outcome Outcome
	// Authenticated is the boolean CheckAndRefresh returns.
	Authenticated bool
	// ExpiresAt is the computed expiry of the usable access token, zero when
	// not authenticated or when a refreshed token could not be decoded.
	ExpiresAt time.Time
}

// TokenPair is the credential pair held in secure storage.
type TokenPair = refresh.TokenPair

// Refresher exchanges a refresh token for a new pair. refresh.Client is the
// HTTP implementation; a nil refreshToken means none was stored.
//
// Errors matching refresh.ErrRejected or refresh.ErrMalformedResponse are
// classified as rejections; any other error as a transport failure.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken *string) (TokenPair, error)
}
