// Package audit emits structured events describing completed ledger
// operations. Emission is fire-and-forget: the sink is consulted only after
// the financial writes have committed, and a sink outage never blocks or
// rolls back a capital operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a completed ledger operation.
type EventType string

const (
	EventCommitmentCreated EventType = "commitment_created"
	EventCommitmentDeleted EventType = "commitment_deleted"
	EventCallsCreated      EventType = "calls_created"
	EventPaymentApplied    EventType = "payment_applied"
	EventFundReconciled    EventType = "fund_reconciled"
)

// Event is one audit record. Amounts are the normalized absolute values.
type Event struct {
	Type       EventType           `json:"type"`
	FundID     uuid.UUID           `json:"fund_id,omitempty"`
	DealID     uuid.UUID           `json:"deal_id,omitempty"`
	EntityID   uuid.UUID           `json:"entity_id"`
	Amount     decimal.Decimal     `json:"amount,omitempty"`
	Status     string              `json:"status,omitempty"`
	RecordedBy string              `json:"recorded_by,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
	Detail     map[string]string   `json:"detail,omitempty"`
}

// Sink accepts audit events. Implementations must be safe for concurrent use
// and should fail fast rather than block the caller.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// NopSink discards every event. Used by tests and local runs without NATS.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, evt Event) error { return nil }
