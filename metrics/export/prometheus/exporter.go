package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/metrics/export/internaldefs"
)

// Source is the read side of a Coordinator.
type Source interface {
	MetricsSnapshot() authd.MetricsSnapshot
	RetryStats() authd.RetryStats
	AuditDropped() uint64
}

// Exporter renders a Source in Prometheus text exposition format.
type Exporter struct {
	source Source
}

// NewExporter returns an Exporter over source, usually a *authd.Coordinator.
func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current values. Retry statistics are always present; flow counters
// only when Coordinator metrics are enabled.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	stats := p.source.RetryStats()
	dropped := p.source.AuditDropped()

	var b strings.Builder
	b.Grow(4096)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}
	for _, def := range internaldefs.RetryDefs {
		writeCounter(&b, def.Name, def.Help, def.Value(stats))
	}
	writeCounter(&b, internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)

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

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')

	// Snapshots carry bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
