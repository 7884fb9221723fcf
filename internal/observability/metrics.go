package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the allocation ledger.
type Metrics struct {
	// --- Operations ---
	OperationsTotal   *prometheus.CounterVec
	OperationsFailed  *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// --- Ledger ---
	CommitmentsCreated prometheus.Counter
	CommitmentsDeleted prometheus.Counter
	CallsCreated       prometheus.Counter
	PaymentsApplied    prometheus.Counter
	PaymentsRejected   *prometheus.CounterVec

	// --- Reconciliation ---
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ReconcileDrift    prometheus.Counter

	// --- Audit ---
	AuditEventsPublished prometheus.Counter
	AuditPublishFailures prometheus.Counter

	// --- HTTP ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capledger_operations_total",
			Help: "Ledger operations attempted",
		}, []string{"operation"}),

		OperationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capledger_operations_failed_total",
			Help: "Ledger operations rejected or failed",
		}, []string{"operation", "reason"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capledger_operation_duration_seconds",
			Help:    "Time to complete one ledger operation end to end",
			Buckets: opBuckets,
		}, []string{"operation"}),

		CommitmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_commitments_created_total",
			Help: "Commitments accepted into the ledger",
		}),

		CommitmentsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_commitments_deleted_total",
			Help: "Commitments removed (with cascaded calls and payments)",
		}),

		CallsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_calls_created_total",
			Help: "Capital calls persisted",
		}),

		PaymentsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_payments_applied_total",
			Help: "Payments applied to calls",
		}),

		PaymentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capledger_payments_rejected_total",
			Help: "Payments rejected (not_found, invalid_amount, overpayment)",
		}, []string{"reason"}),

		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capledger_reconcile_runs_total",
			Help: "Fund reconciliation runs by outcome",
		}, []string{"outcome"}),

		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capledger_reconcile_duration_seconds",
			Help:    "Time to reconcile one fund",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		ReconcileDrift: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_reconcile_drift_total",
			Help: "Commitments whose cached totals differed from ground truth",
		}),

		AuditEventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_audit_events_published_total",
			Help: "Audit events handed to the sink",
		}),

		AuditPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capledger_audit_publish_failures_total",
			Help: "Audit sink failures (logged and swallowed)",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capledger_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capledger_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: opBuckets,
		}, []string{"route"}),
	}
}
