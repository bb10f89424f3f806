// Package metrics exposes Prometheus counters for listen-mode cycles.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listenmode/internal/coordinator"
)

const namespace = "listenmode"

// Metrics implements coordinator.Observer.
type Metrics struct {
	registry prometheus.Gatherer

	// decisions counts decisions.
	// Labels: action (enable, disable), reason (global, enable_list, ...)
	decisions *prometheus.CounterVec

	// resolutions counts resolver outcomes.
	// Labels: state (resolved, timed_out, idle)
	resolutions *prometheus.CounterVec

	// attempts is the number of channel reads a resolution took.
	attempts prometheus.Histogram

	// applies counts toggle applications.
	// Labels: result (changed, unchanged, no_surface, error)
	applies *prometheus.CounterVec

	// sessions is the number of open watch sessions.
	sessions prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "total",
			Help:      "Listen-mode decisions by action and reason",
		}, []string{"action", "reason"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "outcomes_total",
			Help:      "Channel resolver outcomes",
		}, []string{"state"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "attempts",
			Help:      "Channel reads per resolution",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 16, 20},
		}),
		applies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "toggle",
			Name:      "applies_total",
			Help:      "Toggle applications by result",
		}, []string{"result"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "sessions",
			Help:      "Open watch sessions",
		}),
	}
}

// Observe records one finished cycle.
func (m *Metrics) Observe(_ context.Context, o coordinator.Outcome) {
	m.decisions.WithLabelValues(o.Action, o.Reason).Inc()
	m.resolutions.WithLabelValues(o.Resolution).Inc()
	if o.Attempts > 0 {
		m.attempts.Observe(float64(o.Attempts))
	}
	m.applies.WithLabelValues(applyResult(o)).Inc()
}

func applyResult(o coordinator.Outcome) string {
	switch {
	case o.Applied && o.Changed:
		return "changed"
	case o.Applied:
		return "unchanged"
	case o.Error == coordinator.ErrNoSurface.Error():
		return "no_surface"
	default:
		return "error"
	}
}

// SessionOpened and SessionClosed track the sessions gauge.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
