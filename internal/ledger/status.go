package ledger

import "github.com/shopspring/decimal"

// CommitmentStatusFor classifies a commitment from its current sums. A status
// is a classification of (called, paid, committed), not something advanced by
// discrete events, so it can never drift from the underlying totals.
//
// funded is terminal: payments are append-only, so paid never decreases.
func CommitmentStatusFor(committed, called, paid decimal.Decimal) CommitmentStatus {
	switch {
	case committed.IsPositive() && paid.GreaterThanOrEqual(committed):
		return StatusFunded
	case paid.IsPositive():
		return StatusPartiallyPaid
	case called.IsPositive():
		return StatusCalled
	default:
		return StatusCommitted
	}
}

// CallStatusFor classifies a single call from its paid amount.
func CallStatusFor(callAmount, paid decimal.Decimal) CallStatus {
	switch {
	case callAmount.IsPositive() && paid.GreaterThanOrEqual(callAmount):
		return CallStatusPaid
	case paid.IsPositive():
		return CallStatusPartial
	default:
		return CallStatusPending
	}
}

// Reconcile recomputes a commitment's cached totals and status from its call
// set, which is ground truth. It returns a copy with CalledAmount, PaidAmount
// and Status replaced by the derived values. Idempotent: reconciling twice
// with no intervening writes yields identical results.
func Reconcile(c Commitment, calls []CapitalCall) Commitment {
	called := decimal.Zero
	paid := decimal.Zero
	for _, call := range calls {
		called = called.Add(call.CallAmount)
		paid = paid.Add(call.PaidAmount)
	}
	c.CalledAmount = called
	c.PaidAmount = paid
	c.Status = CommitmentStatusFor(c.CommittedAmount, called, paid)
	return c
}

// ProgressFor derives the read model for a commitment from reconciled sums.
func ProgressFor(c Commitment) Progress {
	paidPct := decimal.Zero
	if c.CommittedAmount.IsPositive() {
		paidPct = c.PaidAmount.Mul(decimal.NewFromInt(100)).Div(c.CommittedAmount).RoundBank(2)
	}
	return Progress{
		CommitmentID:   c.ID,
		Committed:      c.CommittedAmount,
		Called:         c.CalledAmount,
		Paid:           c.PaidAmount,
		Outstanding:    c.CalledAmount.Sub(c.PaidAmount),
		Uncalled:       c.CommittedAmount.Sub(c.CalledAmount),
		PaidPercentage: paidPct,
		Status:         c.Status,
	}
}
