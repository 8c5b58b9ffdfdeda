// Package audit implements async dispatching of session lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, fan-out, no-op).
//   - [Dispatcher]: buffered async relay, dropping or blocking when full.
//   - [Event]: one record keyed by event type and check ID.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Guard does.
//
// # What this package must NOT do
//
//   - Accept or forward token values.
//   - Import goGuard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
