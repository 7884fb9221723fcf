package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/money"
	"capledger/internal/store"
)

// CommitmentRequest is one requested commitment, before normalization.
// Percentage amounts are interpreted against the fund's target size.
type CommitmentRequest struct {
	FundID uuid.UUID
	DealID uuid.UUID
	Amount money.Request
}

// CreateCommitment records a fund's pledge to a deal. The fund row is locked
// for the duration of the transaction so the capacity check and the insert
// observe a serialized view; a concurrent commitment for the same (fund,
// deal) pair loses on the store's uniqueness constraint.
func (l *Ledger) CreateCommitment(ctx context.Context, req CommitmentRequest) (ledger.Commitment, error) {
	start := l.now()
	var created ledger.Commitment

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		created, err = l.createCommitmentInTx(ctx, tx, req)
		return err
	})
	l.observe("create_commitment", start, err)
	if err != nil {
		return ledger.Commitment{}, err
	}

	if l.metrics != nil {
		l.metrics.CommitmentsCreated.Inc()
	}
	l.log.Info().
		Str("commitment_id", created.ID.String()).
		Str("fund_id", created.FundID.String()).
		Str("deal_id", created.DealID.String()).
		Str("committed", created.CommittedAmount.String()).
		Msg("commitment created")
	l.emitAudit(ctx, audit.Event{
		Type:       audit.EventCommitmentCreated,
		FundID:     created.FundID,
		DealID:     created.DealID,
		EntityID:   created.ID,
		Amount:     created.CommittedAmount,
		Status:     string(created.Status),
		OccurredAt: l.now(),
	})
	return created, nil
}

// CreateCommitmentBatch records several commitments against one deal in a
// single atomic unit. Any rejection, including a duplicate or a capacity
// breach on the last entry, rolls back the whole batch.
func (l *Ledger) CreateCommitmentBatch(ctx context.Context, dealID uuid.UUID, reqs []CommitmentRequest) ([]ledger.Commitment, error) {
	start := l.now()
	created := make([]ledger.Commitment, 0, len(reqs))

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		created = created[:0]
		for _, req := range reqs {
			req.DealID = dealID
			c, err := l.createCommitmentInTx(ctx, tx, req)
			if err != nil {
				return err
			}
			created = append(created, c)
		}
		return nil
	})
	l.observe("create_commitment_batch", start, err)
	if err != nil {
		return nil, err
	}

	for _, c := range created {
		if l.metrics != nil {
			l.metrics.CommitmentsCreated.Inc()
		}
		l.emitAudit(ctx, audit.Event{
			Type:       audit.EventCommitmentCreated,
			FundID:     c.FundID,
			DealID:     c.DealID,
			EntityID:   c.ID,
			Amount:     c.CommittedAmount,
			Status:     string(c.Status),
			OccurredAt: l.now(),
		})
	}
	l.log.Info().
		Str("deal_id", dealID.String()).
		Int("count", len(created)).
		Msg("commitment batch created")
	return created, nil
}

// createCommitmentInTx is the shared body of single and batch creation. The
// caller owns the transaction.
func (l *Ledger) createCommitmentInTx(ctx context.Context, tx store.Tx, req CommitmentRequest) (ledger.Commitment, error) {
	fund, err := tx.GetFundForUpdate(ctx, req.FundID)
	if err != nil {
		return ledger.Commitment{}, err
	}
	if _, err := tx.GetDeal(ctx, req.DealID); err != nil {
		return ledger.Commitment{}, err
	}

	base := decimal.Zero
	if fund.TargetSize != nil {
		base = *fund.TargetSize
	}
	amount, err := money.Normalize(req.Amount, base)
	if err != nil {
		return ledger.Commitment{}, err
	}

	if err := checkCapacity(ctx, tx, fund, amount); err != nil {
		return ledger.Commitment{}, err
	}

	now := l.now().UTC()
	c := ledger.Commitment{
		ID:              uuid.New(),
		FundID:          req.FundID,
		DealID:          req.DealID,
		CommittedAmount: amount,
		CalledAmount:    decimal.Zero,
		PaidAmount:      decimal.Zero,
		Status:          ledger.CommitmentStatusFor(amount, decimal.Zero, decimal.Zero),
		PortfolioWeight: decimal.Zero,
		AmountKind:      req.Amount.Kind,
		RawAmount:       req.Amount.Amount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertCommitment(ctx, c); err != nil {
		return ledger.Commitment{}, err
	}

	if err := l.recomputeWeights(ctx, tx, req.FundID); err != nil {
		return ledger.Commitment{}, err
	}
	return c, nil
}

// DeleteCommitment removes a commitment and everything hanging off it, in
// dependency order: payments, then calls, then the commitment itself. The
// fund's remaining weights are rebalanced in the same transaction.
func (l *Ledger) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	start := l.now()
	var deleted ledger.Commitment

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		// Every path that rewrites fund weights locks fund first, then
		// commitment. A plain read resolves the fund id before any lock is
		// taken, and the commitment is re-read under its lock afterwards in
		// case it changed or vanished while we waited on the fund row.
		existing, err := tx.GetCommitment(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetFundForUpdate(ctx, existing.FundID); err != nil {
			return err
		}
		c, err := tx.GetCommitmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePaymentsByCommitment(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteCallsByCommitment(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteCommitment(ctx, id); err != nil {
			return err
		}
		deleted = c
		return l.recomputeWeights(ctx, tx, c.FundID)
	})
	l.observe("delete_commitment", start, err)
	if err != nil {
		return err
	}

	if l.metrics != nil {
		l.metrics.CommitmentsDeleted.Inc()
	}
	l.log.Info().
		Str("commitment_id", id.String()).
		Str("fund_id", deleted.FundID.String()).
		Msg("commitment deleted")
	l.emitAudit(ctx, audit.Event{
		Type:       audit.EventCommitmentDeleted,
		FundID:     deleted.FundID,
		DealID:     deleted.DealID,
		EntityID:   id,
		Amount:     deleted.CommittedAmount,
		OccurredAt: l.now(),
	})
	return nil
}

// GetCommitment returns one commitment with its totals and status derived
// from the call set, never the cached columns.
func (l *Ledger) GetCommitment(ctx context.Context, id uuid.UUID) (ledger.Commitment, error) {
	var c ledger.Commitment
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		c, err = reconciledCommitment(ctx, tx, id)
		return err
	})
	return c, err
}

// GetCommitmentProgress returns the paid/called/outstanding read model for
// one commitment.
func (l *Ledger) GetCommitmentProgress(ctx context.Context, id uuid.UUID) (ledger.Progress, error) {
	var p ledger.Progress
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		c, err := reconciledCommitment(ctx, tx, id)
		if err != nil {
			return err
		}
		p = ledger.ProgressFor(c)
		return nil
	})
	return p, err
}

// ListCommitmentsByFund returns a fund's commitments, reconciled.
func (l *Ledger) ListCommitmentsByFund(ctx context.Context, fundID uuid.UUID) ([]ledger.Commitment, error) {
	var out []ledger.Commitment
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		out, err = reconciledByFund(ctx, tx, fundID)
		return err
	})
	return out, err
}

// ListCommitmentsByDeal returns a deal's commitments across funds,
// reconciled.
func (l *Ledger) ListCommitmentsByDeal(ctx context.Context, dealID uuid.UUID) ([]ledger.Commitment, error) {
	var out []ledger.Commitment
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		cs, err := tx.ListCommitmentsByDeal(ctx, dealID)
		if err != nil {
			return err
		}
		out, err = reconcileAll(ctx, tx, cs)
		return err
	})
	return out, err
}

// ListCallsByCommitment returns the commitment's calls.
func (l *Ledger) ListCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]ledger.CapitalCall, error) {
	var out []ledger.CapitalCall
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCommitment(ctx, commitmentID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListCallsByCommitment(ctx, commitmentID)
		return err
	})
	return out, err
}

// recomputeWeights rewrites every portfolio weight for the fund so that each
// commitment's weight is its share of the fund's total committed capital.
// Runs inside the caller's transaction.
func (l *Ledger) recomputeWeights(ctx context.Context, tx store.Tx, fundID uuid.UUID) error {
	commitments, err := tx.ListCommitmentsByFund(ctx, fundID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, c := range commitments {
		total = total.Add(c.CommittedAmount)
	}
	for _, c := range commitments {
		weight := decimal.Zero
		if total.IsPositive() {
			weight = c.CommittedAmount.Div(total).RoundBank(weightScale)
		}
		if err := tx.UpdateCommitmentWeight(ctx, c.ID, weight); err != nil {
			return err
		}
	}
	return nil
}

// weightScale is the precision of stored portfolio weights (fractions of 1).
const weightScale = 8

func reconciledCommitment(ctx context.Context, tx store.Tx, id uuid.UUID) (ledger.Commitment, error) {
	c, err := tx.GetCommitment(ctx, id)
	if err != nil {
		return ledger.Commitment{}, err
	}
	calls, err := tx.ListCallsByCommitment(ctx, id)
	if err != nil {
		return ledger.Commitment{}, err
	}
	return ledger.Reconcile(c, calls), nil
}

func reconciledByFund(ctx context.Context, tx store.Tx, fundID uuid.UUID) ([]ledger.Commitment, error) {
	cs, err := tx.ListCommitmentsByFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return reconcileAll(ctx, tx, cs)
}

func reconcileAll(ctx context.Context, tx store.Tx, cs []ledger.Commitment) ([]ledger.Commitment, error) {
	out := make([]ledger.Commitment, 0, len(cs))
	for _, c := range cs {
		calls, err := tx.ListCallsByCommitment(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.Reconcile(c, calls))
	}
	return out, nil
}
