// Package goGuard provides a client-side session guard: it decides whether a
// locally stored access token is still usable and transparently refreshes it
// once, through the backend refresh endpoint, when it is stale.
//
// The package is designed for concurrent client workloads: Guard methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. Concurrent stale
// checks share a single refresh call.
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Guard], [Builder], [Config], and value types
// ([Result], [MetricsSnapshot]). Secure storage is injected through store.Store and the
// refresh call through [Refresher]; claim decoding lives in jwt and audit dispatch under
// internal/.
//
// # What this package must NOT do
//
//   - Log or audit token values.
//   - Call any backend endpoint other than the refresh endpoint.
//   - Cache tokens in memory beyond a single check/refresh cycle.
//   - Import any sub-package that re-imports goGuard (no import cycles).
//
// # Failure contract
//
// [Guard.CheckAndRefresh] never returns an error: every failure collapses to false. A
// rejected or failed refresh clears both stored tokens; a malformed token or a store
// read failure leaves storage untouched.
package goGuard
