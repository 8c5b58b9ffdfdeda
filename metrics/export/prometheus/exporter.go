package prometheus

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
)

var labelName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type metricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
}

type target struct {
	source metricsSource
	labels []string // sorted `name="value"` pairs
}

type sample struct {
	labels   []string
	snapshot goGuard.MetricsSnapshot
	dropped  uint64
}

// PrometheusExporter renders guard metrics in Prometheus text exposition format.
// One exporter can serve several guards, told apart by constant labels.
type PrometheusExporter struct {
	mu      sync.RWMutex
	targets []target
}

// NewPrometheusExporter returns an exporter reading from g.
func NewPrometheusExporter(g *goGuard.Guard) *PrometheusExporter {
	return NewPrometheusExporterFromSource(g)
}

// NewPrometheusExporterFromSource returns an exporter over any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{}
	if source != nil {
		p.targets = append(p.targets, target{source: source})
	}
	return p
}

// AddSource renders source alongside the existing ones with the given constant
// labels, e.g. {"device": "laptop"}.
func (p *PrometheusExporter) AddSource(source metricsSource, labels map[string]string) error {
	if source == nil {
		return fmt.Errorf("prometheus: nil metrics source")
	}

	pairs := make([]string, 0, len(labels))
	for name, value := range labels {
		if !labelName.MatchString(name) || name == "le" || strings.HasPrefix(name, "__") {
			return fmt.Errorf("prometheus: invalid label name %q", name)
		}
		pairs = append(pairs, name+`="`+escapeLabel(value)+`"`)
	}
	sort.Strings(pairs)

	p.mu.Lock()
	p.targets = append(p.targets, target{source: source, labels: pairs})
	p.mu.Unlock()
	return nil
}

// Handler serves Render with the Prometheus text content type.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. Sources with metrics disabled and no
// dropped audit events are skipped; "" means nothing to report.
func (p *PrometheusExporter) Render() string {
	if p == nil {
		return ""
	}

	p.mu.RLock()
	targets := append([]target(nil), p.targets...)
	p.mu.RUnlock()

	samples := make([]sample, 0, len(targets))
	for _, t := range targets {
		snapshot := t.source.MetricsSnapshot()
		dropped := t.source.AuditDropped()
		if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
			continue
		}
		samples = append(samples, sample{labels: t.labels, snapshot: snapshot, dropped: dropped})
	}
	if len(samples) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096 * len(samples))

	for _, def := range internaldefs.CounterDefs {
		writeHeader(&b, def.Name, def.Help, "counter")
		for _, s := range samples {
			writeSample(&b, def.Name, s.labels, s.snapshot.Counters[def.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		writeHeader(&b, def.Name, def.Help, "histogram")
		for _, s := range samples {
			nonCumulative := internaldefs.NormalizeBuckets(s.snapshot.Histograms[def.ID])
			writeHistogram(&b, def.Name, s.labels, internaldefs.CumulativeBuckets(nonCumulative))
		}
	}

	const dropped = "goguard_audit_dropped_total"
	writeHeader(&b, dropped, "Dropped audit events due to dispatcher backpressure.", "counter")
	for _, s := range samples {
		writeSample(&b, dropped, s.labels, s.dropped)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name string, labels []string, value uint64) {
	b.WriteString(name)
	writeLabels(b, labels)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name string, labels []string, cumulative [8]uint64) {
	bucketLabels := make([]string, len(labels)+1)
	copy(bucketLabels, labels)
	for i, le := range internaldefs.HistogramBounds {
		bucketLabels[len(labels)] = `le="` + le + `"`
		writeSample(b, name+"_bucket", bucketLabels, cumulative[i])
	}

	writeSample(b, name+"_count", labels, cumulative[len(cumulative)-1])
	// snapshots carry bucket counts only
	writeSample(b, name+"_sum", labels, 0)
}

func writeLabels(b *strings.Builder, labels []string) {
	if len(labels) == 0 {
		return
	}
	b.WriteByte('{')
	b.WriteString(strings.Join(labels, ","))
	b.WriteByte('}')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}
