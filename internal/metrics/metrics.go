// Package metrics exposes the Coordinator's Prometheus collectors,
// grounded on r3e-network-service_layer/infrastructure/metrics: a single
// struct of pre-registered collectors constructed once at startup,
// covering ring size, node health transitions, worker pool depth,
// placement outcomes, and federated query fan-out latency — the ambient
// observability concern spec §10 calls for, which is not excluded by any
// of spec.md's Non-goals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the Coordinator registers.
type Metrics struct {
	RingSize             prometheus.Gauge
	NodeHealthTransitions *prometheus.CounterVec
	NodesKnown           prometheus.Gauge

	WorkerPoolInFlight prometheus.Gauge
	WorkerPoolQueued   prometheus.Gauge
	TasksTotal         *prometheus.CounterVec

	PlacementsTotal   *prometheus.CounterVec
	PlacementDuration prometheus.Histogram

	FederatedQueryDuration *prometheus.HistogramVec
	FederatedQueryNodes    prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New constructs and registers every collector against registerer. Pass
// prometheus.DefaultRegisterer in production; tests should pass a fresh
// prometheus.NewRegistry() to avoid collisions across parallel tests.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_ring_nodes",
			Help: "Current number of real nodes present in the hash ring.",
		}),
		NodeHealthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_node_health_transitions_total",
			Help: "Count of node health state transitions, by resulting state.",
		}, []string{"state"}),
		NodesKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_nodes_known",
			Help: "Current number of nodes known to the registry.",
		}),
		WorkerPoolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_worker_pool_in_flight",
			Help: "Current number of tasks executing in the worker pool.",
		}),
		WorkerPoolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_worker_pool_queued",
			Help: "Current number of tasks waiting for a free worker.",
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_tasks_total",
			Help: "Count of worker pool tasks completed, by terminal status.",
		}, []string{"status"}),
		PlacementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_placements_total",
			Help: "Count of offering placement attempts, by outcome.",
		}, []string{"outcome"}),
		PlacementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_placement_duration_seconds",
			Help:    "Time to place one offering end to end.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		FederatedQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coordinator_federated_query_duration_seconds",
			Help:    "Time to complete a federated SPARQL query, by shape.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"shape"}),
		FederatedQueryNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_federated_query_nodes",
			Help:    "Number of live nodes fanned out to per federated query.",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_http_requests_total",
			Help: "Count of inbound HTTP requests, by path and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coordinator_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "path"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RingSize,
			m.NodeHealthTransitions,
			m.NodesKnown,
			m.WorkerPoolInFlight,
			m.WorkerPoolQueued,
			m.TasksTotal,
			m.PlacementsTotal,
			m.PlacementDuration,
			m.FederatedQueryDuration,
			m.FederatedQueryNodes,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
		)
	}

	return m
}

// Noop returns a Metrics instance registered against a private registry,
// for components under test that need a non-nil *Metrics but don't care
// about its values and must not collide with other tests' collector
// registrations on prometheus.DefaultRegisterer.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
