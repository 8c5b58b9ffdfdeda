// Package store provides the secure key-value persistence the guard keeps its
// token pair in.
//
// # Backends
//
//   - [Memory]: process-local map, the default and the test fake.
//   - [File]: one encrypted file (argon2id key, AES-256-GCM, CBOR entries).
//   - [SQLite]: a credentials table via mattn/go-sqlite3.
//   - [Redis]: keys namespaced by prefix and device ID via go-redis.
//
// Every backend returns [ErrNotFound] for a missing key and wraps other
// failures in [ErrUnavailable], so callers can tell "signed out" from "storage
// broken".
//
// # What this package must NOT do
//
//   - Import goGuard, jwt, or refresh (no upward imports).
//   - Interpret the values it stores.
package store
