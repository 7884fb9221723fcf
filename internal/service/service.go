// Package service implements the capital allocation ledger's operation
// surface: commitment creation, capital call scheduling, payment processing,
// cascade deletion, reconciliation, and fund/deal metric rollups. Every
// mutating operation runs as one atomic unit of work against the store; the
// audit sink is consulted only after commit and never gates a financial
// write.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/observability"
	"capledger/internal/store"
)

// Ledger is the allocation service. Safe for concurrent use: all
// serialization comes from the store's transactional isolation, never from
// in-process locks held across storage calls.
type Ledger struct {
	store   store.Store
	sink    audit.Sink
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(st store.Store, sink audit.Sink, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: st,
		sink:  sink,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// emitAudit publishes one audit event after a committed operation.
// Best-effort: a sink failure is logged and swallowed so that an audit
// outage never blocks capital operations.
func (l *Ledger) emitAudit(ctx context.Context, evt audit.Event) {
	if l.metrics != nil {
		l.metrics.AuditEventsPublished.Inc()
	}
	if err := l.sink.Publish(ctx, evt); err != nil {
		if l.metrics != nil {
			l.metrics.AuditPublishFailures.Inc()
		}
		l.log.Warn().
			Err(err).
			Str("event_type", string(evt.Type)).
			Str("entity_id", evt.EntityID.String()).
			Msg("audit publish failed")
	}
}

// observe records operation metrics for one completed call.
func (l *Ledger) observe(operation string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.OperationsTotal.WithLabelValues(operation).Inc()
	l.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		l.metrics.OperationsFailed.WithLabelValues(operation, failureReason(err)).Inc()
	}
}

// failureReason buckets an error into a low-cardinality metric label.
func failureReason(err error) string {
	var (
		notFound    *ledger.NotFoundError
		duplicate   *ledger.DuplicateCommitmentError
		capacity    *ledger.CapacityExceededError
		overCommit  *ledger.OverCommitmentError
		overpayment *ledger.OverpaymentError
		badAmount   *ledger.InvalidAmountError
		badBase     *ledger.InvalidBaseError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &duplicate):
		return "duplicate_commitment"
	case errors.As(err, &capacity):
		return "capacity_exceeded"
	case errors.As(err, &overCommit):
		return "over_commitment"
	case errors.As(err, &overpayment):
		return "overpayment"
	case errors.As(err, &badAmount):
		return "invalid_amount"
	case errors.As(err, &badBase):
		return "invalid_base"
	default:
		return "internal"
	}
}
