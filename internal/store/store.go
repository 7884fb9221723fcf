// Package store persists the allocation ledger. The Postgres implementation
// is authoritative for the concurrency guarantees (uniqueness constraint on
// (fund, deal), row locks, atomic relative updates); the in-memory
// implementation models the same guarantees behind one mutex for tests and
// local runs.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
)

// Store opens atomic units of work against the ledger.
type Store interface {
	// RunAtomic executes fn inside one transaction. Every write made by fn
	// becomes visible together on commit, or not at all: any error returned
	// by fn rolls the transaction back and is returned to the caller
	// unchanged.
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the operation set available inside one atomic unit of work. All
// methods may block on storage I/O; callers must not hold in-process locks
// across them.
type Tx interface {
	// Funds and deals are read-only collaborators.
	GetFund(ctx context.Context, id uuid.UUID) (ledger.Fund, error)
	// GetFundForUpdate locks the fund row so that a capacity check and the
	// insert that follows it observe a serialized view of the fund's
	// commitments.
	GetFundForUpdate(ctx context.Context, id uuid.UUID) (ledger.Fund, error)
	GetDeal(ctx context.Context, id uuid.UUID) (ledger.Deal, error)
	ListFundIDs(ctx context.Context) ([]uuid.UUID, error)

	// InsertCommitment persists a new commitment. A (fund, deal) uniqueness
	// conflict surfaces as *ledger.DuplicateCommitmentError regardless of any
	// application-level pre-check.
	InsertCommitment(ctx context.Context, c ledger.Commitment) error
	GetCommitment(ctx context.Context, id uuid.UUID) (ledger.Commitment, error)
	// GetCommitmentForUpdate locks the commitment row, serializing concurrent
	// operations on the same commitment.
	GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (ledger.Commitment, error)
	ListCommitmentsByFund(ctx context.Context, fundID uuid.UUID) ([]ledger.Commitment, error)
	ListCommitmentsByDeal(ctx context.Context, dealID uuid.UUID) ([]ledger.Commitment, error)
	SumCommittedByFund(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error)

	// UpdateCommitmentDerived rewrites the cached derived fields (called,
	// paid, status). The underlying call set stays ground truth.
	UpdateCommitmentDerived(ctx context.Context, id uuid.UUID, called, paid decimal.Decimal, status ledger.CommitmentStatus) error
	UpdateCommitmentWeight(ctx context.Context, id uuid.UUID, weight decimal.Decimal) error
	// AddCommitmentPaid atomically applies paid_amount += amount with the
	// bound paid_amount + amount <= committed_amount checked in the same
	// step, and returns the post-update paid amount. Returns false, without
	// writing, if the bound would be violated. Callers must derive follow-up
	// state from the returned value, not from an earlier read of the row.
	AddCommitmentPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	// DeleteCommitment removes the commitment row only; dependent calls and
	// payments must already be gone (the coordinator orders the cascade).
	DeleteCommitment(ctx context.Context, id uuid.UUID) error

	InsertCalls(ctx context.Context, calls []ledger.CapitalCall) error
	GetCall(ctx context.Context, id uuid.UUID) (ledger.CapitalCall, error)
	ListCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]ledger.CapitalCall, error)
	// AddCallPaid atomically applies paid_amount += amount with the bound
	// paid_amount + amount <= call_amount checked in the same step, and
	// returns the post-update paid amount. Returns false, without writing,
	// if the bound would be violated. Callers must derive follow-up state
	// from the returned value, not from an earlier read of the row.
	AddCallPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	UpdateCallStatus(ctx context.Context, id uuid.UUID, status ledger.CallStatus) error
	DeleteCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) error

	// Payments are append-only: there is deliberately no update or
	// single-row delete operation.
	InsertPayment(ctx context.Context, p ledger.Payment) error
	ListPaymentsByCall(ctx context.Context, callID uuid.UUID) ([]ledger.Payment, error)
	DeletePaymentsByCommitment(ctx context.Context, commitmentID uuid.UUID) error
}
