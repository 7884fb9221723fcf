// Package money normalizes amount requests to the ledger's canonical
// fixed-precision decimal form. Every allocation amount enters the system
// through Normalize; downstream storage only ever sees the absolute form.
package money

import (
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
)

// Scale is the ledger's fixed number of fractional digits.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Request is an amount as the caller expressed it, before normalization.
type Request struct {
	Amount decimal.Decimal
	Kind   ledger.AmountKind
}

// Normalize converts a request into the canonical absolute-currency amount.
//
// Absolute amounts pass through (rounded to the ledger scale). Percentage
// amounts are amount/100 * base with banker's rounding on the divide; the
// base must be positive. A fund with no usable base fails with
// InvalidBaseError, a non-positive amount with InvalidAmountError.
func Normalize(req Request, base decimal.Decimal) (decimal.Decimal, error) {
	if !req.Amount.IsPositive() {
		return decimal.Zero, &ledger.InvalidAmountError{
			Amount: req.Amount,
			Reason: "amount must be greater than zero",
		}
	}

	switch req.Kind {
	case ledger.AmountAbsolute:
		return req.Amount.RoundBank(Scale), nil

	case ledger.AmountPercentage:
		if !base.IsPositive() {
			return decimal.Zero, &ledger.InvalidBaseError{
				Base:   base,
				Reason: "percentage amounts require a positive base",
			}
		}
		return req.Amount.Mul(base).Div(hundred).RoundBank(Scale), nil

	default:
		return decimal.Zero, &ledger.InvalidAmountError{
			Amount: req.Amount,
			Reason: "unknown amount kind " + string(req.Kind),
		}
	}
}

// AsPercentageOf re-expresses an absolute amount as a percentage of base,
// at the ledger scale. The inverse of a percentage Normalize against the
// same base, within Scale precision.
func AsPercentageOf(amount, base decimal.Decimal) (decimal.Decimal, error) {
	if !base.IsPositive() {
		return decimal.Zero, &ledger.InvalidBaseError{
			Base:   base,
			Reason: "cannot express a percentage of a non-positive base",
		}
	}
	return amount.Mul(hundred).Div(base).RoundBank(Scale), nil
}

// Split divides total into count tranches at the ledger scale. Each tranche
// is total/count rounded down; the indivisible remainder goes to the first
// tranche so the parts always sum to total exactly.
func Split(total decimal.Decimal, count int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}

	per := total.Div(decimal.NewFromInt(int64(count))).RoundDown(Scale)
	parts := make([]decimal.Decimal, count)
	for i := range parts {
		parts[i] = per
	}

	remainder := total.Sub(per.Mul(decimal.NewFromInt(int64(count))))
	parts[0] = parts[0].Add(remainder)
	return parts
}
