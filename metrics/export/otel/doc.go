// Package otel exposes guard metrics through OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per guard counter and
// an Int64ObservableGauge per latency bucket. One callback reads
// [goGuard.Guard.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate guard state.
package otel
