package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_requests_total",
			Help: "Total requests by routed backend and envelope status",
		},
		[]string{"backend", "status"},
	)

	RoutingConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_decision_confidence",
			Help:    "Routing decision confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	AmbiguousTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_ambiguous_total",
			Help: "Requests where no backend could be chosen",
		},
	)

	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_confirmations_total",
			Help: "Safety gate outcomes for destructive operations",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_dispatch_duration_seconds",
			Help:    "Backend dispatch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	DispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_dispatch_errors_total",
			Help: "Dispatch failures by backend and error kind",
		},
		[]string{"backend", "kind"},
	)

	ResultRecords = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_result_records",
			Help:    "Records returned per successful dispatch",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
		},
	)

	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_audit_entries_total",
			Help: "Audit entries appended by status",
		},
		[]string{"status"},
	)

	AuditAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_audit_append_failures_total",
			Help: "Requests whose audit entry could not be persisted",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RoutingConfidence)
	prometheus.MustRegister(AmbiguousTotal)
	prometheus.MustRegister(ConfirmationsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(DispatchErrors)
	prometheus.MustRegister(ResultRecords)
	prometheus.MustRegister(AuditEntriesTotal)
	prometheus.MustRegister(AuditAppendFailures)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
