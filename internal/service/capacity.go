package service

import (
	"context"

	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
	"capledger/internal/store"
)

// checkCapacity rejects a proposed commitment that would push the fund's
// total committed capital above its target size. The caller must hold the
// fund row lock so the sum cannot move between the check and the insert.
// A fund without a target size accepts everything.
func checkCapacity(ctx context.Context, tx store.Tx, fund ledger.Fund, proposed decimal.Decimal) error {
	if fund.TargetSize == nil {
		return nil
	}

	committed, err := tx.SumCommittedByFund(ctx, fund.ID)
	if err != nil {
		return err
	}
	if committed.Add(proposed).GreaterThan(*fund.TargetSize) {
		return &ledger.CapacityExceededError{
			FundID:    fund.ID,
			Committed: committed,
			Requested: proposed,
			Target:    *fund.TargetSize,
		}
	}
	return nil
}
