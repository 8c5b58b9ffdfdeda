package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a guard counter or histogram.
type MetricID uint16

const (
	// MetricCheck counts every check, regardless of outcome.
	MetricCheck MetricID = iota
	// MetricCheckValid counts checks answered from a fresh token.
	MetricCheckValid
	// MetricCheckNoToken counts checks with no stored access token.
	MetricCheckNoToken
	// MetricCheckMalformed counts checks whose token failed to decode.
	MetricCheckMalformed
	// MetricCheckStoreFailure counts checks aborted by a store read error.
	MetricCheckStoreFailure
	// MetricRefreshAttempt counts refresh calls actually sent to the backend.
	MetricRefreshAttempt
	// MetricRefreshSuccess counts refreshes that persisted a new pair.
	MetricRefreshSuccess
	// MetricRefreshRejected counts non-2xx or schema-invalid refresh responses.
	MetricRefreshRejected
	// MetricRefreshTransportFailure counts refreshes that got no response.
	MetricRefreshTransportFailure
	// MetricRefreshShared counts callers that joined an in-flight refresh.
	MetricRefreshShared
	// MetricTokensCleared counts fail-closed deletions of both stored tokens.
	MetricTokensCleared
	// MetricTokensStored counts pairs stored by sign-in callers.
	MetricTokensStored
	// MetricSignOut counts explicit sign-outs.
	MetricSignOut
	// MetricRefreshLatency is the refresh round-trip latency histogram.
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics honoring cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only MetricRefreshLatency is a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRefreshLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRefreshLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRefreshLatency].buckets[i])
		}
		s.Histograms[MetricRefreshLatency] = buckets
	}

	return s
}

// Refresh round trips are network-bound, so buckets start at 25ms.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
