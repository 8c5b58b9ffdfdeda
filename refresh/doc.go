// Package refresh implements the HTTP client for the backend token-refresh
// endpoint.
//
// # Wire format
//
// Request: POST, Content-Type application/json, body {"refreshToken": string|null}.
// Response: 2xx with {"accessToken": string, "refreshToken": string, ...}.
// Both tokens must be non-empty strings; anything else is [ErrMalformedResponse].
//
// # Architecture boundaries
//
// This package classifies outcomes ([ErrRejected], [ErrMalformedResponse],
// [ErrTransport]) and nothing more. Persisting or clearing tokens is the
// guard's decision.
//
// # What this package must NOT do
//
//   - Access secure storage.
//   - Import goGuard, jwt, or store.
//   - Retry: a refresh token may be single-use.
package refresh
