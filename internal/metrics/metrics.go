// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Metrics implements engine.Observer on a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	steps              *prometheus.CounterVec
	sequences          *prometheus.CounterVec
	background         prometheus.Gauge
	backgroundFailures *prometheus.CounterVec
	ioFailures         prometheus.Counter
}

// New registers the fabrial metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// steps tracks finished processes by step type and outcome
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrial_steps_total",
				Help: "Finished steps by step type and outcome",
			},
			[]string{"type", "outcome"},
		),

		// sequences tracks finished sequence runs by final status
		sequences: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrial_sequences_total",
				Help: "Finished sequence runs by final status",
			},
			[]string{"status"},
		),

		background: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fabrial_background_active",
				Help: "Number of running background processes",
			},
		),

		// backgroundFailures splits failed background steps into returned
		// errors and recovered panics
		backgroundFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fabrial_background_failures_total",
				Help: "Background steps that ended in error, by reason",
			},
			[]string{"reason"},
		),

		ioFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fabrial_io_failures_total",
				Help: "Failed directory creations and metadata writes",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StepFinished(step engine.Step, outcome engine.Outcome) {
	m.steps.WithLabelValues(stepType(step), outcome.String()).Inc()
}

func (m *Metrics) SequenceFinished(status schema.Status) {
	m.sequences.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) BackgroundChanged(delta int) {
	m.background.Add(float64(delta))
}

func (m *Metrics) BackgroundFailed(panicked bool) {
	reason := "error"
	if panicked {
		reason = "panic"
	}
	m.backgroundFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IOFailure() {
	m.ioFailures.Inc()
}

func stepType(step engine.Step) string {
	if t, ok := step.(interface{ Type() string }); ok {
		return t.Type()
	}
	return "unknown"
}

var _ engine.Observer = (*Metrics)(nil)
