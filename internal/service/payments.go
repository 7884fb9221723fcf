package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/store"
)

// ApplyPayment records a payment against a capital call and rolls the new
// totals up to the parent commitment. Preconditions are checked in a fixed
// order: the call must exist, the amount must be positive, and the payment
// must fit within the call's remaining balance. The balance check is a
// conditional relative update in the store, so two racing payments that
// would together overshoot the call can never both land.
func (l *Ledger) ApplyPayment(ctx context.Context, callID uuid.UUID, amount decimal.Decimal, recordedBy string) (ledger.PaymentResult, error) {
	start := l.now()
	var (
		result  ledger.PaymentResult
		payment ledger.Payment
		parent  ledger.Commitment
	)

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		call, err := tx.GetCall(ctx, callID)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return &ledger.InvalidAmountError{
				Amount: amount,
				Reason: "payment amount must be greater than zero",
			}
		}

		// Lock the parent first. All mutations under one commitment take the
		// same lock, which fixes the lock order and serializes concurrent
		// payments against sibling calls.
		c, err := tx.GetCommitmentForUpdate(ctx, call.CommitmentID)
		if err != nil {
			return err
		}

		newCallPaid, ok, err := tx.AddCallPaid(ctx, callID, amount)
		if err != nil {
			return err
		}
		if !ok {
			// The first read may predate a payment that committed before our
			// commitment lock was granted. Re-read so the error reports the
			// paid total the bound check actually saw.
			current, err := tx.GetCall(ctx, callID)
			if err != nil {
				return err
			}
			return &ledger.OverpaymentError{
				CallID:     callID,
				Paid:       current.PaidAmount,
				Requested:  amount,
				CallAmount: current.CallAmount,
			}
		}
		// The invariant sum(call amounts) <= committed makes this bound
		// unreachable once the call-level bound held, but the store checks it
		// in the same atomic step regardless.
		_, ok, err = tx.AddCommitmentPaid(ctx, call.CommitmentID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return &ledger.OverpaymentError{
				CallID:     callID,
				Paid:       c.PaidAmount,
				Requested:  amount,
				CallAmount: c.CommittedAmount,
			}
		}

		payment = ledger.Payment{
			ID:         uuid.New(),
			CallID:     callID,
			Amount:     amount,
			AppliedAt:  l.now().UTC(),
			RecordedBy: recordedBy,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		// newCallPaid came back from the conditional update itself, so the
		// stored status and the reported figures reflect what the database
		// committed, even when the opening read raced another payment.
		callStatus := ledger.CallStatusFor(call.CallAmount, newCallPaid)
		if err := tx.UpdateCallStatus(ctx, callID, callStatus); err != nil {
			return err
		}

		calls, err := tx.ListCallsByCommitment(ctx, call.CommitmentID)
		if err != nil {
			return err
		}
		rec := ledger.Reconcile(c, calls)
		if err := tx.UpdateCommitmentDerived(ctx, c.ID, rec.CalledAmount, rec.PaidAmount, rec.Status); err != nil {
			return err
		}

		parent = rec
		result = ledger.PaymentResult{
			PaymentID:             payment.ID,
			NewCallStatus:         callStatus,
			NewCommitmentStatus:   rec.Status,
			RemainingOnCall:       call.CallAmount.Sub(newCallPaid),
			RemainingOnCommitment: rec.CommittedAmount.Sub(rec.PaidAmount),
		}
		return nil
	})
	l.observe("apply_payment", start, err)
	if err != nil {
		if l.metrics != nil {
			l.metrics.PaymentsRejected.WithLabelValues(failureReason(err)).Inc()
		}
		return ledger.PaymentResult{}, err
	}

	if l.metrics != nil {
		l.metrics.PaymentsApplied.Inc()
	}
	l.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("call_id", callID.String()).
		Str("amount", amount.String()).
		Str("call_status", string(result.NewCallStatus)).
		Str("commitment_status", string(result.NewCommitmentStatus)).
		Msg("payment applied")
	l.emitAudit(ctx, audit.Event{
		Type:       audit.EventPaymentApplied,
		FundID:     parent.FundID,
		DealID:     parent.DealID,
		EntityID:   payment.ID,
		Amount:     amount,
		Status:     string(result.NewCommitmentStatus),
		RecordedBy: recordedBy,
		OccurredAt: l.now(),
	})
	return result, nil
}
