package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names a guard counter for export.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names a guard histogram for export.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricCheck, Name: "goguard_check_total", Help: "Session checks performed."},
	{ID: goGuard.MetricCheckValid, Name: "goguard_check_valid_total", Help: "Checks answered from a fresh stored token."},
	{ID: goGuard.MetricCheckNoToken, Name: "goguard_check_no_token_total", Help: "Checks with no stored access token."},
	{ID: goGuard.MetricCheckMalformed, Name: "goguard_check_malformed_total", Help: "Checks whose access token could not be decoded."},
	{ID: goGuard.MetricCheckStoreFailure, Name: "goguard_check_store_failure_total", Help: "Checks aborted by a secure store read error."},
	{ID: goGuard.MetricRefreshAttempt, Name: "goguard_refresh_attempt_total", Help: "Refresh calls sent to the backend."},
	{ID: goGuard.MetricRefreshSuccess, Name: "goguard_refresh_success_total", Help: "Refreshes that stored a new token pair."},
	{ID: goGuard.MetricRefreshRejected, Name: "goguard_refresh_rejected_total", Help: "Refreshes rejected by status or response schema."},
	{ID: goGuard.MetricRefreshTransportFailure, Name: "goguard_refresh_transport_failure_total", Help: "Refreshes that received no response."},
	{ID: goGuard.MetricRefreshShared, Name: "goguard_refresh_shared_total", Help: "Checks that joined an in-flight refresh."},
	{ID: goGuard.MetricTokensCleared, Name: "goguard_tokens_cleared_total", Help: "Fail-closed deletions of stored tokens."},
	{ID: goGuard.MetricTokensStored, Name: "goguard_tokens_stored_total", Help: "Token pairs stored by sign-in."},
	{ID: goGuard.MetricSignOut, Name: "goguard_sign_out_total", Help: "Explicit sign-outs."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricRefreshLatency, Name: "goguard_refresh_latency_seconds", Help: "Refresh round-trip latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the guard's latency
// buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix are metric-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
