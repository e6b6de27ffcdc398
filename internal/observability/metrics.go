// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Execution metrics
	BundlesApplied   prometheus.Counter
	BundlesRejected  *prometheus.CounterVec
	OrdersSettled    *prometheus.CounterVec
	TransfersPlanned prometheus.Counter
	ExecutionLatency prometheus.Histogram

	// Config store metrics
	ConfigEntries  prometheus.Gauge
	ConfigRebuilds prometheus.Counter

	// Gateway metrics
	GatewayConnections prometheus.Gauge
	GatewayBundles     *prometheus.CounterVec
	GatewayAuthDenied  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastAppliedWindow    prometheus.Gauge
	LastSuccessfulBundle prometheus.Gauge
	UptimeSeconds        prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clearline"
	}

	return &Metrics{
		// Execution metrics
		BundlesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bundles_applied_total",
			Help:      "Total number of bundles applied",
		}),
		BundlesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bundles_rejected_total",
			Help:      "Total number of bundles rejected by reason",
		}, []string{"reason"}),
		OrdersSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_settled_total",
			Help:      "Total number of orders settled by kind",
		}, []string{"kind"}),
		TransfersPlanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfers_planned_total",
			Help:      "Total number of external transfers planned",
		}),
		ExecutionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "execution_latency_seconds",
			Help:      "Bundle execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Config store metrics
		ConfigEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "configstore",
			Name:      "entries",
			Help:      "Current number of pair configuration entries",
		}),
		ConfigRebuilds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "configstore",
			Name:      "rebuilds_total",
			Help:      "Total number of configuration store rebuilds",
		}),

		// Gateway metrics
		GatewayConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Current number of connected nodes",
		}),
		GatewayBundles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "bundles_total",
			Help:      "Total number of bundles received by outcome",
		}, []string{"outcome"}),
		GatewayAuthDenied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "auth_denied_total",
			Help:      "Total number of submissions from unauthorized nodes",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastAppliedWindow: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_applied_window",
			Help:      "Execution window of the last applied bundle",
		}),
		LastSuccessfulBundle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_bundle_timestamp",
			Help:      "Unix timestamp of last applied bundle",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBundleApplied records a successfully applied bundle.
func RecordBundleApplied(window uint64, priority, user int, seconds float64, unixNow int64) {
	DefaultMetrics.BundlesApplied.Inc()
	DefaultMetrics.OrdersSettled.WithLabelValues("priority").Add(float64(priority))
	DefaultMetrics.OrdersSettled.WithLabelValues("user").Add(float64(user))
	DefaultMetrics.ExecutionLatency.Observe(seconds)
	DefaultMetrics.LastAppliedWindow.Set(float64(window))
	DefaultMetrics.LastSuccessfulBundle.Set(float64(unixNow))
}

// RecordBundleRejected records a rejected bundle.
func RecordBundleRejected(reason string, seconds float64) {
	DefaultMetrics.BundlesRejected.WithLabelValues(reason).Inc()
	DefaultMetrics.ExecutionLatency.Observe(seconds)
}

// RecordTransfersPlanned records the external transfers of one bundle.
func RecordTransfersPlanned(n int) {
	DefaultMetrics.TransfersPlanned.Add(float64(n))
}

// RecordConfigRebuild records a configuration store rebuild.
func RecordConfigRebuild(entries int) {
	DefaultMetrics.ConfigRebuilds.Inc()
	DefaultMetrics.ConfigEntries.Set(float64(entries))
}

// RecordGatewayBundle records one gateway submission by outcome.
func RecordGatewayBundle(outcome string) {
	DefaultMetrics.GatewayBundles.WithLabelValues(outcome).Inc()
}

// RecordAuthDenied records a submission from an unauthorized node.
func RecordAuthDenied() {
	DefaultMetrics.GatewayAuthDenied.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
