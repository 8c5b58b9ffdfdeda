// Package transport attaches the guard's access token to outgoing API calls.
//
// # Architecture boundaries
//
// [Transport] translates a Guard decision into HTTP semantics: authenticated
// requests gain an Authorization header, unauthenticated ones are never sent.
// Freshness and refresh decisions stay in goGuard.Guard.
//
// # What this package must NOT do
//
//   - Decode tokens or call the refresh endpoint directly.
//   - Access secure storage.
//   - Retry requests on its own.
package transport
