// Package metrics exposes Prometheus instruments for the distribution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// Metrics implements commission.Recorder.
type Metrics struct {
	registry      *prometheus.Registry
	distributions *prometheus.CounterVec
	credited      *prometheus.CounterVec
	batchRuns     *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchPlots    *prometheus.CounterVec
	warnings      *prometheus.CounterVec
}

var _ commission.Recorder = (*Metrics)(nil)

// New registers the engine metrics on a fresh registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	distributions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_distributions_total",
		Help: "Plot distributions by mode and outcome.",
	}, []string{"mode", "outcome"})

	credited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_credited_amount_total",
		Help: "Commission amount credited to wallets, in rupees.",
	}, []string{"mode"})

	batchRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_batch_runs_total",
		Help: "Batch distribution runs by mode.",
	}, []string{"mode", "canceled"})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "commission_batch_duration_seconds",
		Help:    "Batch distribution durations.",
		Buckets: prometheus.DefBuckets,
	})

	batchPlots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_batch_plots_total",
		Help: "Plots handled by batch runs, by result.",
	}, []string{"result"})

	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_consistency_warnings_total",
		Help: "Consistency warnings raised while applying distributions.",
	}, []string{"kind"})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		distributions,
		credited,
		batchRuns,
		batchDuration,
		batchPlots,
		warnings,
	)

	return &Metrics{
		registry:      reg,
		distributions: distributions,
		credited:      credited,
		batchRuns:     batchRuns,
		batchDuration: batchDuration,
		batchPlots:    batchPlots,
		warnings:      warnings,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDistribution(mode commission.ApplyMode, outcome commission.Outcome, credited decimal.Decimal) {
	if m == nil {
		return
	}
	m.distributions.WithLabelValues(string(mode), string(outcome)).Inc()
	if v, _ := credited.Float64(); v > 0 {
		m.credited.WithLabelValues(string(mode)).Add(v)
	}
}

func (m *Metrics) ObserveBatch(s *commission.BatchSummary, elapsed time.Duration) {
	if m == nil || s == nil {
		return
	}
	canceled := "false"
	if s.Canceled {
		canceled = "true"
	}
	m.batchRuns.WithLabelValues(string(s.Mode), canceled).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
	m.batchPlots.WithLabelValues("succeeded").Add(float64(s.Succeeded))
	m.batchPlots.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.batchPlots.WithLabelValues("failed").Add(float64(s.Failed))
}

func (m *Metrics) ObserveWarning(kind commission.WarningKind) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(string(kind)).Inc()
}
