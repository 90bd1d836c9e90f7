package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "routeplane"

// Metrics holds every routeplane collector. Each instance registers with its
// own Registerer, so tests can use a fresh prometheus.Registry.
type Metrics struct {
	ChunksDeployed *prometheus.CounterVec
	FeesCollected  *prometheus.CounterVec

	NetworkResults  *prometheus.CounterVec
	NetworkDuration *prometheus.HistogramVec
	Plans           *prometheus.CounterVec

	DispatchOps *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksDeployed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "chunks_total",
				Help:      "Chunks newly deployed by the store.",
			},
			[]string{"identity"},
		),
		FeesCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "fees_collected_total",
				Help:      "Fee units credited to the fee recipient.",
			},
			[]string{"identity"},
		),
		NetworkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "network_results_total",
				Help:      "Per-network plan execution outcomes.",
			},
			[]string{"network", "state"},
		),
		NetworkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "network_duration_seconds",
				Help:      "Time spent executing a plan against one network.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"network"},
		),
		Plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "plans_total",
				Help:      "Plan executions by final plan status.",
			},
			[]string{"status"},
		),
		DispatchOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "operations_total",
				Help:      "Dispatcher operations by outcome code.",
			},
			[]string{"op", "code"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.ChunksDeployed, m.FeesCollected,
			m.NetworkResults, m.NetworkDuration, m.Plans,
			m.DispatchOps,
			m.HTTPRequests, m.HTTPDuration,
		)
	}
	return m
}

// RecordDeploy counts newly deployed chunks and the fee charged for them.
func (m *Metrics) RecordDeploy(identity string, chunks int, fee uint64) {
	if m == nil {
		return
	}
	m.ChunksDeployed.WithLabelValues(identity).Add(float64(chunks))
	m.FeesCollected.WithLabelValues(identity).Add(float64(fee))
}

// RecordNetwork counts one network outcome and its duration.
func (m *Metrics) RecordNetwork(network, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.NetworkResults.WithLabelValues(network, state).Inc()
	m.NetworkDuration.WithLabelValues(network).Observe(d.Seconds())
}

// RecordPlan counts one plan execution by final status.
func (m *Metrics) RecordPlan(status string) {
	if m == nil {
		return
	}
	m.Plans.WithLabelValues(status).Inc()
}

// RecordDispatch counts one dispatcher operation. code is empty on success.
func (m *Metrics) RecordDispatch(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.DispatchOps.WithLabelValues(op, code).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.HTTPRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.HTTPDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
