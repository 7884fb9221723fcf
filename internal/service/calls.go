package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/money"
	"capledger/internal/store"
)

// CallSchedule describes one or more capital calls against a commitment.
// Percentage amounts are interpreted against the commitment's committed
// amount. Count must be at least 1; with Count > 1 the total is split into
// equal tranches (remainder on the first) due Cadence apart starting at
// FirstDue.
type CallSchedule struct {
	Amount   money.Request
	Count    int
	FirstDue time.Time
	Cadence  time.Duration
}

// SingleCall is a one-tranche schedule.
func SingleCall(amount money.Request, due time.Time) CallSchedule {
	return CallSchedule{Amount: amount, Count: 1, FirstDue: due}
}

// CreateCalls issues the scheduled capital calls against a commitment. The
// commitment row is locked so the over-commitment check sums a frozen call
// set; all tranches land atomically or not at all.
func (l *Ledger) CreateCalls(ctx context.Context, commitmentID uuid.UUID, schedule CallSchedule) ([]ledger.CapitalCall, error) {
	start := l.now()
	var (
		created []ledger.CapitalCall
		total   decimal.Decimal
		parent  ledger.Commitment
	)

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		if schedule.Count < 1 {
			return &ledger.InvalidAmountError{
				Amount: schedule.Amount.Amount,
				Reason: "call schedule needs at least one tranche",
			}
		}

		c, err := tx.GetCommitmentForUpdate(ctx, commitmentID)
		if err != nil {
			return err
		}

		total, err = money.Normalize(schedule.Amount, c.CommittedAmount)
		if err != nil {
			return err
		}

		// The existing calls, not the cached column, are the authority on
		// how much has been called so far.
		existing, err := tx.ListCallsByCommitment(ctx, commitmentID)
		if err != nil {
			return err
		}
		called := decimal.Zero
		paid := decimal.Zero
		for _, call := range existing {
			called = called.Add(call.CallAmount)
			paid = paid.Add(call.PaidAmount)
		}
		if called.Add(total).GreaterThan(c.CommittedAmount) {
			return &ledger.OverCommitmentError{
				CommitmentID: commitmentID,
				Called:       called,
				Requested:    total,
				Committed:    c.CommittedAmount,
			}
		}

		now := l.now().UTC()
		tranches := money.Split(total, schedule.Count)
		created = make([]ledger.CapitalCall, 0, len(tranches))
		for i, amount := range tranches {
			created = append(created, ledger.CapitalCall{
				ID:           uuid.New(),
				CommitmentID: commitmentID,
				CallAmount:   amount,
				PaidAmount:   decimal.Zero,
				DueDate:      schedule.FirstDue.Add(time.Duration(i) * schedule.Cadence),
				Status:       ledger.CallStatusPending,
				CreatedAt:    now,
			})
		}
		if err := tx.InsertCalls(ctx, created); err != nil {
			return err
		}

		newCalled := called.Add(total)
		status := ledger.CommitmentStatusFor(c.CommittedAmount, newCalled, paid)
		if err := tx.UpdateCommitmentDerived(ctx, commitmentID, newCalled, paid, status); err != nil {
			return err
		}
		parent = c
		return nil
	})
	l.observe("create_calls", start, err)
	if err != nil {
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.CallsCreated.Add(float64(len(created)))
	}
	l.log.Info().
		Str("commitment_id", commitmentID.String()).
		Int("tranches", len(created)).
		Str("total", total.String()).
		Msg("capital calls created")
	l.emitAudit(ctx, audit.Event{
		Type:       audit.EventCallsCreated,
		FundID:     parent.FundID,
		DealID:     parent.DealID,
		EntityID:   commitmentID,
		Amount:     total,
		OccurredAt: l.now(),
		Detail:     map[string]string{"tranches": strconv.Itoa(len(created))},
	})
	return created, nil
}
