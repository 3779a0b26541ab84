package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitefactory_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitefactory_provision_duration_seconds",
		Help:    "Duration of site provisioning attempts",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"result"})

	provisionStage = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_provision_stage_total",
		Help: "Count of provisioning stages reached by outcome",
	}, []string{"stage", "result"})

	securityRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_security_rejections_total",
		Help: "Count of requests rejected by the security gates",
	}, []string{"gate"})

	blockedIPs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitefactory_blocked_ips",
		Help: "Number of addresses currently on the blocklist",
	})

	inflightProvisions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitefactory_inflight_provisions",
		Help: "Number of provisioning pipelines currently running",
	})

	maintenanceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_maintenance_operations_total",
		Help: "Count of maintenance operations by task and result",
	}, []string{"task", "result"})

	stuckTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitefactory_stuck_tenants",
		Help: "Tenants left in a non-terminal state past the reconciliation cutoff",
	})

	auditWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitefactory_audit_write_errors_total",
		Help: "Count of audit records that failed to persist",
	})

	mailDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_mail_deliveries_total",
		Help: "Count of welcome mail delivery attempts by result",
	}, []string{"result"})

	blueprintRenders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitefactory_blueprint_renders_total",
		Help: "Count of blueprint renders by blueprint and source",
	}, []string{"blueprint", "source"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveProvision records the duration of a provisioning attempt with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func ObserveStage(stage, result string) {
	provisionStage.WithLabelValues(stage, result).Inc()
}

// ObserveRejection counts a request turned away by auth, blocklist, abuse or quota.
func ObserveRejection(gate string) {
	securityRejections.WithLabelValues(gate).Inc()
}

// SetBlocked sets the blocklist gauge.
func SetBlocked(count int) {
	if count < 0 {
		count = 0
	}
	blockedIPs.Set(float64(count))
}

func IncrementInflight() {
	inflightProvisions.Inc()
}

func DecrementInflight() {
	inflightProvisions.Dec()
}

// ObserveMaintenance increments the maintenance counter for the given task and result.
func ObserveMaintenance(task, result string) {
	maintenanceOperations.WithLabelValues(task, result).Inc()
}

// SetStuckTenants sets the partially provisioned tenant gauge.
func SetStuckTenants(count int) {
	stuckTenants.Set(float64(count))
}

func ObserveAuditWriteError() {
	auditWriteErrors.Inc()
}

func ObserveMail(result string) {
	mailDeliveries.WithLabelValues(result).Inc()
}

// ObserveBlueprint records where a rendered page tree came from: cache, parse or fallback.
func ObserveBlueprint(blueprint, source string) {
	blueprintRenders.WithLabelValues(blueprint, source).Inc()
}
