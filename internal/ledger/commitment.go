package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitmentStatus is the lifecycle state of a commitment. It is always
// derived from the commitment's sums by CommitmentStatusFor; business logic
// never assigns it directly.
type CommitmentStatus string

const (
	StatusCommitted     CommitmentStatus = "committed"
	StatusCalled        CommitmentStatus = "called"
	StatusPartiallyPaid CommitmentStatus = "partially_paid"
	StatusFunded        CommitmentStatus = "funded"
)

// CallStatus is the derived state of a single capital call.
type CallStatus string

const (
	CallStatusPending CallStatus = "pending"
	CallStatusPartial CallStatus = "partial"
	CallStatusPaid    CallStatus = "paid"
)

// AmountKind records how the caller expressed an amount before normalization.
type AmountKind string

const (
	AmountAbsolute   AmountKind = "absolute"
	AmountPercentage AmountKind = "percentage"
)

// Commitment is a fund's pledge of capital to a deal. At most one commitment
// exists per (FundID, DealID) pair; the store's uniqueness constraint enforces
// this. CalledAmount and PaidAmount are a cache of the sums over the child
// calls; reconciliation recomputes them from ground truth.
type Commitment struct {
	ID              uuid.UUID
	FundID          uuid.UUID
	DealID          uuid.UUID
	CommittedAmount decimal.Decimal
	CalledAmount    decimal.Decimal
	PaidAmount      decimal.Decimal
	Status          CommitmentStatus
	PortfolioWeight decimal.Decimal

	// Normalization provenance. Retained for display; never re-derived from.
	AmountKind AmountKind
	RawAmount  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CapitalCall is a request for part of a commitment's capital to be paid now.
type CapitalCall struct {
	ID           uuid.UUID
	CommitmentID uuid.UUID
	CallAmount   decimal.Decimal
	PaidAmount   decimal.Decimal
	DueDate      time.Time
	Status       CallStatus
	CreatedAt    time.Time
}

// Payment is an append-only event applied to exactly one call. Payments are
// never mutated or deleted; corrections are modeled as separate events.
type Payment struct {
	ID         uuid.UUID
	CallID     uuid.UUID
	Amount     decimal.Decimal
	AppliedAt  time.Time
	RecordedBy string
}

// Fund is the read-only collaborator consulted for capacity checks.
// A nil TargetSize means capacity is unbounded.
type Fund struct {
	ID         uuid.UUID
	Name       string
	TargetSize *decimal.Decimal
}

// Deal is the read-only collaborator consulted for existence checks.
type Deal struct {
	ID   uuid.UUID
	Name string
}

// PaymentResult is returned by the payment processor on success.
type PaymentResult struct {
	PaymentID             uuid.UUID
	NewCallStatus         CallStatus
	NewCommitmentStatus   CommitmentStatus
	RemainingOnCall       decimal.Decimal
	RemainingOnCommitment decimal.Decimal
}

// Progress is the read model for a single commitment.
type Progress struct {
	CommitmentID   uuid.UUID
	Committed      decimal.Decimal
	Called         decimal.Decimal
	Paid           decimal.Decimal
	Outstanding    decimal.Decimal // called - paid
	Uncalled       decimal.Decimal // committed - called
	PaidPercentage decimal.Decimal // paid / committed * 100
	Status         CommitmentStatus
}

// FundMetrics rolls commitment figures up to one fund.
type FundMetrics struct {
	FundID          uuid.UUID
	CommitmentCount int
	TotalCommitted  decimal.Decimal
	TotalCalled     decimal.Decimal
	TotalPaid       decimal.Decimal
	Concentration   decimal.Decimal // Largest single portfolio weight
	DeploymentRatio decimal.Decimal // TotalPaid / TotalCommitted
}

// DealMetrics rolls commitment figures up to one deal across funds.
type DealMetrics struct {
	DealID          uuid.UUID
	CommitmentCount int
	TotalCommitted  decimal.Decimal
	TotalCalled     decimal.Decimal
	TotalPaid       decimal.Decimal
	ByFund          []FundShare
}

// FundShare is one fund's slice of a deal.
type FundShare struct {
	FundID    uuid.UUID
	Committed decimal.Decimal
	Paid      decimal.Decimal
}
