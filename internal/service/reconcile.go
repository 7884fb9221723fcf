package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/store"
)

// ReconcileReport summarizes one fund reconciliation run.
type ReconcileReport struct {
	FundID      uuid.UUID
	Commitments int
	Drifted     int
}

// ReconcileFund recomputes every commitment's cached totals, status, and
// portfolio weight for one fund from the call set, and reclassifies each
// call's stored status from its paid amount. Idempotent: a second run with
// no intervening writes reports zero drift.
func (l *Ledger) ReconcileFund(ctx context.Context, fundID uuid.UUID) (ReconcileReport, error) {
	start := l.now()
	report := ReconcileReport{FundID: fundID}

	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		report.Commitments = 0
		report.Drifted = 0

		if _, err := tx.GetFundForUpdate(ctx, fundID); err != nil {
			return err
		}
		commitments, err := tx.ListCommitmentsByFund(ctx, fundID)
		if err != nil {
			return err
		}
		report.Commitments = len(commitments)

		for _, c := range commitments {
			calls, err := tx.ListCallsByCommitment(ctx, c.ID)
			if err != nil {
				return err
			}
			// Stored call statuses are a cache over (call_amount, paid_amount)
			// and can drift the same way the commitment columns can. Repair
			// them here too, so list reads serve classified values.
			for _, call := range calls {
				want := ledger.CallStatusFor(call.CallAmount, call.PaidAmount)
				if want == call.Status {
					continue
				}
				if err := tx.UpdateCallStatus(ctx, call.ID, want); err != nil {
					return err
				}
				report.Drifted++
			}
			rec := ledger.Reconcile(c, calls)
			if rec.CalledAmount.Equal(c.CalledAmount) &&
				rec.PaidAmount.Equal(c.PaidAmount) &&
				rec.Status == c.Status {
				continue
			}
			if err := tx.UpdateCommitmentDerived(ctx, c.ID, rec.CalledAmount, rec.PaidAmount, rec.Status); err != nil {
				return err
			}
			report.Drifted++
		}
		return l.recomputeWeights(ctx, tx, fundID)
	})

	if l.metrics != nil {
		l.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		l.metrics.ReconcileRuns.WithLabelValues(outcome).Inc()
		l.metrics.ReconcileDrift.Add(float64(report.Drifted))
	}
	if err != nil {
		return ReconcileReport{}, err
	}

	if report.Drifted > 0 {
		l.log.Warn().
			Str("fund_id", fundID.String()).
			Int("commitments", report.Commitments).
			Int("drifted", report.Drifted).
			Msg("reconciliation corrected drift")
	} else {
		l.log.Debug().
			Str("fund_id", fundID.String()).
			Int("commitments", report.Commitments).
			Msg("reconciliation clean")
	}
	l.emitAudit(ctx, audit.Event{
		Type:       audit.EventFundReconciled,
		FundID:     fundID,
		EntityID:   fundID,
		OccurredAt: l.now(),
		Detail: map[string]string{
			"commitments": strconv.Itoa(report.Commitments),
			"drifted":     strconv.Itoa(report.Drifted),
		},
	})
	return report, nil
}

// ReconcileAllFunds reconciles every fund, one transaction per fund so a
// failure on one fund does not hold up or roll back the rest.
func (l *Ledger) ReconcileAllFunds(ctx context.Context) error {
	var fundIDs []uuid.UUID
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		fundIDs, err = tx.ListFundIDs(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, id := range fundIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := l.ReconcileFund(ctx, id); err != nil {
			l.log.Error().Err(err).Str("fund_id", id.String()).Msg("fund reconciliation failed")
		}
	}
	return nil
}

// RunPeriodicReconciliation reconciles all funds on a fixed interval until
// the context is cancelled. Intended to run as a background goroutine.
func (l *Ledger) RunPeriodicReconciliation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", interval).Msg("periodic reconciliation started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("periodic reconciliation stopped")
			return
		case <-ticker.C:
			if err := l.ReconcileAllFunds(ctx); err != nil {
				l.log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// RecalculateFundMetrics rolls the fund's reconciled commitments up into
// portfolio totals, concentration, and deployment ratio.
func (l *Ledger) RecalculateFundMetrics(ctx context.Context, fundID uuid.UUID) (ledger.FundMetrics, error) {
	m := ledger.FundMetrics{FundID: fundID}
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		if _, err := tx.GetFund(ctx, fundID); err != nil {
			return err
		}
		commitments, err := reconciledByFund(ctx, tx, fundID)
		if err != nil {
			return err
		}

		m = ledger.FundMetrics{
			FundID:          fundID,
			CommitmentCount: len(commitments),
			TotalCommitted:  decimal.Zero,
			TotalCalled:     decimal.Zero,
			TotalPaid:       decimal.Zero,
			Concentration:   decimal.Zero,
			DeploymentRatio: decimal.Zero,
		}
		for _, c := range commitments {
			m.TotalCommitted = m.TotalCommitted.Add(c.CommittedAmount)
			m.TotalCalled = m.TotalCalled.Add(c.CalledAmount)
			m.TotalPaid = m.TotalPaid.Add(c.PaidAmount)
		}
		if m.TotalCommitted.IsPositive() {
			for _, c := range commitments {
				w := c.CommittedAmount.Div(m.TotalCommitted).RoundBank(weightScale)
				if w.GreaterThan(m.Concentration) {
					m.Concentration = w
				}
			}
			m.DeploymentRatio = m.TotalPaid.Div(m.TotalCommitted).RoundBank(ratioScale)
		}
		return nil
	})
	return m, err
}

// RecalculateDealMetrics rolls a deal's reconciled commitments up across
// funds. Shares come back sorted by fund id for stable output.
func (l *Ledger) RecalculateDealMetrics(ctx context.Context, dealID uuid.UUID) (ledger.DealMetrics, error) {
	m := ledger.DealMetrics{DealID: dealID}
	err := l.store.RunAtomic(ctx, func(tx store.Tx) error {
		if _, err := tx.GetDeal(ctx, dealID); err != nil {
			return err
		}
		cs, err := tx.ListCommitmentsByDeal(ctx, dealID)
		if err != nil {
			return err
		}
		commitments, err := reconcileAll(ctx, tx, cs)
		if err != nil {
			return err
		}

		m = ledger.DealMetrics{
			DealID:          dealID,
			CommitmentCount: len(commitments),
			TotalCommitted:  decimal.Zero,
			TotalCalled:     decimal.Zero,
			TotalPaid:       decimal.Zero,
		}
		for _, c := range commitments {
			m.TotalCommitted = m.TotalCommitted.Add(c.CommittedAmount)
			m.TotalCalled = m.TotalCalled.Add(c.CalledAmount)
			m.TotalPaid = m.TotalPaid.Add(c.PaidAmount)
			m.ByFund = append(m.ByFund, ledger.FundShare{
				FundID:    c.FundID,
				Committed: c.CommittedAmount,
				Paid:      c.PaidAmount,
			})
		}
		sort.Slice(m.ByFund, func(i, j int) bool {
			return m.ByFund[i].FundID.String() < m.ByFund[j].FundID.String()
		})
		return nil
	})
	return m, err
}

// ratioScale is the precision of derived ratios such as deployment.
const ratioScale = 4
