// Package prometheus renders guard metrics in Prometheus text exposition
// format.
//
// Counter names are goguard_*_total; the single histogram is
// goguard_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount Handler.
//   - Mutate guard state.
package prometheus
