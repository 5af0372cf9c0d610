package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency on the front-end facing API.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "keyserver",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// KeysIssuedTotal counts keys created or prolonged, by device and whether
// the key is a trial (test) key.
var KeysIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "keys",
		Name:      "issued_total",
		Help:      "Total number of keys created or prolonged.",
	},
	[]string{"device", "is_test"},
)

// KeysSweptTotal counts sweeper actions, by outcome (alerted, disabled, reaped).
var KeysSweptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "keys",
		Name:      "swept_total",
		Help:      "Total number of sweeper actions taken on keys.",
	},
	[]string{"outcome"},
)

// PanelRequestsTotal counts panel client calls, by operation and outcome.
var PanelRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "panel",
		Name:      "requests_total",
		Help:      "Total number of remote panel requests.",
	},
	[]string{"operation", "outcome"},
)

// PaymentsProcessedTotal counts payment pipeline transitions.
var PaymentsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "payments",
		Name:      "processed_total",
		Help:      "Total number of payment pipeline transitions.",
	},
	[]string{"transition"},
)

// NotificationsPlannedTotal counts schedule rows planted, by rule type.
var NotificationsPlannedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "notifications",
		Name:      "planned_total",
		Help:      "Total number of notification schedules planned.",
	},
	[]string{"rule_type"},
)

// NotificationsDispatchedTotal counts dispatcher outcomes, by status.
var NotificationsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "keyserver",
		Subsystem: "notifications",
		Name:      "dispatched_total",
		Help:      "Total number of notification schedules dispatched.",
	},
	[]string{"status"},
)

// DispatchBatchSize observes the size of each dispatcher fetch batch.
var DispatchBatchSize = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "keyserver",
		Subsystem: "notifications",
		Name:      "dispatch_batch_size",
		Help:      "Number of schedules fetched per dispatcher batch.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50},
	},
)

// All returns all keyserver-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		KeysIssuedTotal,
		KeysSweptTotal,
		PanelRequestsTotal,
		PaymentsProcessedTotal,
		NotificationsPlannedTotal,
		NotificationsDispatchedTotal,
		DispatchBatchSize,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors, the
// shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
