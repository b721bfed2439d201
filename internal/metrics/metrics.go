package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stack operations by kind, operation and result (ok or error kind)
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackmanager_operations_total",
			Help: "Total number of stack operations by kind, operation and result",
		},
		[]string{"kind", "operation", "result"},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackmanager_backend_call_duration_seconds",
			Help:    "Duration of provisioning backend calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	PriorityAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackmanager_priority_allocations_total",
			Help: "Total number of listener rule priority allocations by result",
		},
		[]string{"result"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackmanager_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(BackendCallDuration)
	prometheus.MustRegister(PriorityAllocations)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBackendCall records the duration of a backend call started at start.
func ObserveBackendCall(call string, start time.Time) {
	BackendCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}
