package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/metrics/export/internaldefs"
)

// Source is satisfied by *trustcore.Engine.
type Source interface {
	MetricsSnapshot() trustcore.MetricsSnapshot
	AuditStats() audit.Stats
}

type counterDesc struct {
	id   trustcore.MetricID
	desc *prom.Desc
}

type histogramDesc struct {
	id   trustcore.MetricID
	desc *prom.Desc
}

type auditDesc struct {
	value func(audit.Stats) uint64
	desc  *prom.Desc
}

// Exporter implements prometheus.Collector over an engine snapshot.
type Exporter struct {
	source     Source
	counters   []counterDesc
	histograms []histogramDesc
	audit      []auditDesc
}

var _ prom.Collector = (*Exporter)(nil)

// NewExporter returns a collector reading from engine.
func NewExporter(engine *trustcore.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource returns a collector reading from source.
func NewExporterFromSource(source Source) *Exporter {
	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{
			id:   def.ID,
			desc: prom.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{
			id:   def.ID,
			desc: prom.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.AuditDefs {
		e.audit = append(e.audit, auditDesc{
			value: def.Value,
			desc:  prom.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prom.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	for _, a := range e.audit {
		ch <- a.desc
	}
}

// Collect implements prometheus.Collector. A disabled engine reports
// nothing for its counters; audit counters are always reported.
func (e *Exporter) Collect(ch chan<- prom.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()
	if len(snapshot.Counters) > 0 {
		for _, c := range e.counters {
			ch <- prom.MustNewConstMetric(c.desc, prom.CounterValue, float64(snapshot.Counters[c.id]))
		}
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[i]
		}
		// Sums are not tracked by the engine.
		ch <- prom.MustNewConstHistogram(h.desc, cumulative[internaldefs.BucketCount-1], 0, buckets)
	}

	stats := e.source.AuditStats()
	for _, a := range e.audit {
		ch <- prom.MustNewConstMetric(a.desc, prom.CounterValue, float64(a.value(stats)))
	}
}

// Handler serves this collector alone from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
