// Package telemetry exports search progress as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"archsearch/internal/evo"
)

// Metrics owns a private registry so several runs in one process, or tests,
// never collide on the global one.
type Metrics struct {
	registry    *prometheus.Registry
	generations prometheus.Counter
	evaluations *prometheus.CounterVec
	bestFitness *prometheus.GaugeVec
	evalSeconds prometheus.Histogram
	samples     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archsearch_generations_total",
			Help: "Generations completed across all runs.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archsearch_evaluations_total",
			Help: "Solution evaluations by outcome.",
		}, []string{"outcome"}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archsearch_best_fitness",
			Help: "Primary fitness of the best solution of the latest generation.",
		}, []string{"run_id"}),
		evalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archsearch_evaluation_seconds",
			Help:    "Wall time of a single solution evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archsearch_sampling_records_total",
			Help: "Architecture and look-back pairs measured in enumeration mode.",
		}),
	}
	m.registry.MustRegister(m.generations, m.evaluations, m.bestFitness, m.evalSeconds, m.samples)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ForRun returns an engine observer that labels gauges with runID.
func (m *Metrics) ForRun(runID string) *RunObserver {
	return &RunObserver{metrics: m, runID: runID}
}

func (m *Metrics) ObserveSample() {
	m.samples.Inc()
}

type RunObserver struct {
	metrics *Metrics
	runID   string
}

var (
	_ evo.GenerationObserver = (*RunObserver)(nil)
	_ evo.EvaluationObserver = (*RunObserver)(nil)
)

func (o *RunObserver) ObserveGeneration(report evo.GenerationReport) {
	if report.Generation > 0 {
		o.metrics.generations.Inc()
	}
	o.metrics.bestFitness.WithLabelValues(o.runID).Set(report.Diagnostics.BestFitness)
}

func (o *RunObserver) ObserveEvaluation(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.metrics.evaluations.WithLabelValues(outcome).Inc()
	o.metrics.evalSeconds.Observe(elapsed.Seconds())
}
