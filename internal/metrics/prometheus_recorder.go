package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	exportDuration *prom.HistogramVec
	stepDuration   *prom.HistogramVec
	outcomes       *prom.CounterVec
	recovered      prom.Counter
}

// NewPrometheusRecorder constructs and registers the export metrics on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.exportDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "pkgcache",
		Name:      "export_duration_seconds",
		Help:      "Duration of package exports",
		Buckets:   prom.DefBuckets,
	}, []string{"mode"})
	pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "pkgcache",
		Name:      "export_step_duration_seconds",
		Help:      "Duration of individual export steps",
		Buckets:   prom.DefBuckets,
	}, []string{"step"})
	pr.outcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "pkgcache",
		Name:      "export_outcomes_total",
		Help:      "Export outcomes by result or error kind",
	}, []string{"outcome"})
	pr.recovered = prom.NewCounter(prom.CounterOpts{
		Namespace: "pkgcache",
		Name:      "dirty_recoveries_total",
		Help:      "Package folders purged because an earlier export was interrupted",
	})
	reg.MustRegister(pr.exportDuration, pr.stepDuration, pr.outcomes, pr.recovered)
	return pr
}

// Registry is the registry the metrics live in.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// WriteTextfile dumps the current metrics in the text exposition format,
// for node-exporter style textfile collection.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}

func (p *PrometheusRecorder) ObserveExportDuration(mode string, d time.Duration) {
	if p == nil || p.exportDuration == nil {
		return
	}
	p.exportDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncExportOutcome(outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRecovered() {
	if p == nil || p.recovered == nil {
		return
	}
	p.recovered.Inc()
}
