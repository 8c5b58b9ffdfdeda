package otel

import (
	"context"
	"errors"
	"fmt"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         goGuard.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      goGuard.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes guard metrics as observable instruments. Values are
// read from the source on every collection.
type OTelExporter struct {
	source       metricsSource
	observeOpts  []metric.ObserveOption
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// Option configures an OTelExporter.
type Option func(*options)

type options struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches attrs to every observation, so several guards can
// share one meter.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// NewOTelExporter registers instruments on meter that observe g.
func NewOTelExporter(meter metric.Meter, g *goGuard.Guard, opts ...Option) (*OTelExporter, error) {
	if g == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, g, opts...)
}

// NewOTelExporterFromSource registers instruments observing any snapshot
// source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	if len(o.attrs) > 0 {
		exporter.observeOpts = []metric.ObserveOption{metric.WithAttributes(o.attrs...)}
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"goguard_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]), exporter.observeOpts...)
		}
		for _, h := range exporter.histograms {
			nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[h.id])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]), exporter.observeOpts...)
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), exporter.observeOpts...)
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()), exporter.observeOpts...)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
