package goGuard

import "errors"

var (
	// ErrNoStoredToken is returned when secure storage holds no access token.
	ErrNoStoredToken = errors.New("no stored access token")
	// ErrMalformedToken is returned when the stored access token cannot be decoded
	// or carries no issued-at claim.
	ErrMalformedToken = errors.New("malformed access token")
	// ErrRefreshRejected is returned when the refresh endpoint answers with a
	// non-2xx status or a body that fails schema validation.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrTransportFailure is returned when the refresh call fails before a
	// response is received (network error, timeout, cancellation).
	ErrTransportFailure = errors.New("refresh transport failure")
	// ErrStoreUnavailable is returned when secure storage fails for a reason
	// other than a missing key.
	ErrStoreUnavailable = errors.New("secure store unavailable")
	// ErrUnauthenticated is returned by AccessToken when no usable session exists.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrGuardNotReady is returned when a Guard is used without being built.
	ErrGuardNotReady = errors.New("guard not initialized")
)
