package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// All domain errors are recoverable and user-facing. Each carries the figures
// the caller needs to act on; none of them indicates a programmer bug.

// InvalidAmountError rejects a non-positive or malformed amount.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

// InvalidBaseError rejects a percentage conversion whose base is unusable,
// e.g. a percentage commitment against a fund with no target size.
type InvalidBaseError struct {
	Base   decimal.Decimal
	Reason string
}

func (e *InvalidBaseError) Error() string {
	return fmt.Sprintf("invalid base %s for percentage amount: %s", e.Base, e.Reason)
}

// DuplicateCommitmentError signals that a commitment already exists for the
// (fund, deal) pair. The uniqueness constraint in the store is the authority.
type DuplicateCommitmentError struct {
	FundID uuid.UUID
	DealID uuid.UUID
}

func (e *DuplicateCommitmentError) Error() string {
	return fmt.Sprintf("commitment already exists for fund %s and deal %s", e.FundID, e.DealID)
}

// CapacityExceededError reports a commitment that would overshoot the fund's
// target size, with the figures needed for actionable display upstream.
type CapacityExceededError struct {
	FundID    uuid.UUID
	Committed decimal.Decimal // Total already committed by the fund
	Requested decimal.Decimal
	Target    decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("fund %s capacity exceeded: committed %s + requested %s > target %s",
		e.FundID, e.Committed, e.Requested, e.Target)
}

// OverCommitmentError reports calls that would push the commitment's total
// call amount above its committed amount.
type OverCommitmentError struct {
	CommitmentID uuid.UUID
	Called       decimal.Decimal // Total already called
	Requested    decimal.Decimal
	Committed    decimal.Decimal
}

func (e *OverCommitmentError) Error() string {
	return fmt.Sprintf("commitment %s over-called: called %s + requested %s > committed %s",
		e.CommitmentID, e.Called, e.Requested, e.Committed)
}

// OverpaymentError reports a payment that would push a call's paid amount
// above its call amount.
type OverpaymentError struct {
	CallID     uuid.UUID
	Paid       decimal.Decimal
	Requested  decimal.Decimal
	CallAmount decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("call %s overpaid: paid %s + requested %s > call amount %s",
		e.CallID, e.Paid, e.Requested, e.CallAmount)
}

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Kind string // "commitment", "call", "fund", "deal"
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
