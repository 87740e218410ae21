// Package metrics exposes the engine's Prometheus collectors: per
// service/step-type latency histograms (p50/p95/p99 are derived from these at
// query time) plus pass/fail/error counters, registered against a
// dedicated registry so a run's /metrics endpoint never leaks Go runtime
// defaults the caller didn't ask for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turbulence"

// Recorder wraps the collectors the scheduler and runners write to.
type Recorder struct {
	registry *prometheus.Registry

	StepLatency   *prometheus.HistogramVec
	StepTotal     *prometheus.CounterVec
	InstanceTotal *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		StepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_latency_ms",
			Help:      "Latency in milliseconds of one step execution, by service and step type.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"service", "step_type", "ok"}),
		StepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Count of step executions by service, step type, and outcome.",
		}, []string{"service", "step_type", "ok"}),
		InstanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Count of completed scenario instances by scenario and final status.",
		}, []string{"scenario_id", "status"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_instances",
			Help:      "Number of scenario instances currently executing.",
		}),
	}

	reg.MustRegister(r.StepLatency, r.StepTotal, r.InstanceTotal, r.ActiveRuns)
	return r
}

// ObserveStep records one step execution's latency and outcome.
func (r *Recorder) ObserveStep(service, stepType string, ok bool, latencyMS float64) {
	okLabel := boolLabel(ok)
	r.StepLatency.WithLabelValues(service, stepType, okLabel).Observe(latencyMS)
	r.StepTotal.WithLabelValues(service, stepType, okLabel).Inc()
}

// ObserveInstance records one completed instance's terminal status.
func (r *Recorder) ObserveInstance(scenarioID, status string) {
	r.InstanceTotal.WithLabelValues(scenarioID, status).Inc()
}

// Handler returns the /metrics HTTP handler for this Recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func boolLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
