// Package metrics exposes Prometheus counters for the flow engine so queue
// dashboards can watch commit/rejection rates and claim contention.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FlowMetrics implements the engine's MetricsRecorder against a dedicated
// Prometheus registry.
type FlowMetrics struct {
	registry *prometheus.Registry

	transitionsCommitted *prometheus.CounterVec
	transitionsRejected  *prometheus.CounterVec
	claimsAcquired       prometheus.Counter
	claimsContended      prometheus.Counter
	activeClaims         prometheus.Gauge
}

func New() *FlowMetrics {
	reg := prometheus.NewRegistry()

	m := &FlowMetrics{
		registry: reg,
		transitionsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "transitions_committed_total",
			Help:      "Committed case transitions by target stage.",
		}, []string{"to_stage"}),
		transitionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "transitions_rejected_total",
			Help:      "Rejected case transitions by rejection code.",
		}, []string{"reason"}),
		claimsAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "claims_acquired_total",
			Help:      "Claims granted to actors.",
		}),
		claimsContended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "claims_contended_total",
			Help:      "Claim attempts refused because another actor held the lease.",
		}),
		activeClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patientflow",
			Name:      "active_claims",
			Help:      "Currently held claims.",
		}),
	}

	reg.MustRegister(
		m.transitionsCommitted,
		m.transitionsRejected,
		m.claimsAcquired,
		m.claimsContended,
		m.activeClaims,
	)
	return m
}

// Handler returns the Prometheus text exposition endpoint.
func (m *FlowMetrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
