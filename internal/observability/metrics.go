package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	// Composed-schema request path. The login fast-path and the shop
	// proxy are deliberately excluded from these two.
	GraphQLRequestsTotal   *prometheus.CounterVec
	GraphQLRequestDuration *prometheus.HistogramVec

	// Startup health probing.
	ProbeAttempts *prometheus.CounterVec

	// Supergraph composition.
	CompositionRuns    *prometheus.CounterVec
	CompositionVersion prometheus.Gauge
}

// NewMetrics creates and registers all gateway metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewTestMetrics creates metrics backed by a throw-away registry.
// Safe to call from multiple tests without duplicate-registration panics.
func NewTestMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		GraphQLRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_requests_total",
			Help:      "Total GraphQL requests through the composed-schema path.",
		}, []string{"operation", "status"}),

		GraphQLRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graphql_request_duration_seconds",
			Help:      "GraphQL request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"operation"}),

		ProbeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subgraph_probe_attempts_total",
			Help:      "Startup liveness probe attempts per subgraph.",
		}, []string{"subgraph", "outcome"}),

		CompositionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "composition_runs_total",
			Help:      "Supergraph composition attempts by outcome.",
		}, []string{"outcome"}),

		CompositionVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composition_version",
			Help:      "Version of the currently served composed schema.",
		}),
	}
}
