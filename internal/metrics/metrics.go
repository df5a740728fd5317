// Package metrics exposes turn counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TurnMetrics records the outcome of each turn.
type TurnMetrics interface {
	// ObserveTurn counts a finished turn and records its duration.
	// route is "direct" or "search"; outcome is the turn outcome kind.
	ObserveTurn(route, outcome string, d time.Duration)

	// IncSearchFailures counts a search that failed and was skipped.
	IncSearchFailures()
}

// Noop implements TurnMetrics without emitting anything.
type Noop struct{}

func (Noop) ObserveTurn(string, string, time.Duration) {}
func (Noop) IncSearchFailures()                        {}

// Prom implements TurnMetrics backed by Prometheus collectors.
type Prom struct {
	turns          *prometheus.CounterVec
	searchFailures prometheus.Counter
	duration       *prometheus.HistogramVec
	backendUp      *prometheus.GaugeVec
}

// NewProm registers the turn collectors under namespace with reg, or
// with the default registerer when reg is nil.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed by route and outcome",
		}, []string{"route", "outcome"}),
		searchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_failures_total",
			Help:      "Web searches that failed and fell back to the plain prompt",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration from classification to final text, by route",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"route"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether a backing service answered its last health probe (1) or not (0)",
		}, []string{"service"}),
	}
	reg.MustRegister(p.turns, p.searchFailures, p.duration, p.backendUp)
	return p
}

func (p *Prom) ObserveTurn(route, outcome string, d time.Duration) {
	p.turns.WithLabelValues(route, outcome).Inc()
	p.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (p *Prom) IncSearchFailures() {
	p.searchFailures.Inc()
}

// SetBackendUp records the health of a backing service such as the
// model server.
func (p *Prom) SetBackendUp(service string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	p.backendUp.WithLabelValues(service).Set(v)
}

// Handler returns an HTTP handler for /metrics serving g, or the
// default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
