package money_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
	"capledger/internal/money"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ============================================================================
// Test: Normalize
// ============================================================================

func TestNormalize_AbsolutePassesThrough(t *testing.T) {
	got, err := money.Normalize(money.Request{
		Amount: dec("250000"),
		Kind:   ledger.AmountAbsolute,
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("250000")) {
		t.Errorf("got %s, want 250000", got)
	}
}

func TestNormalize_AbsoluteRoundsToScale(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12.345", "12.34"}, // Half rounds to even
		{"12.355", "12.36"},
		{"12.341", "12.34"},
		{"12.349", "12.35"},
	}
	for _, tc := range cases {
		got, err := money.Normalize(money.Request{
			Amount: dec(tc.in),
			Kind:   ledger.AmountAbsolute,
		}, decimal.Zero)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", tc.in, err)
		}
		if !got.Equal(dec(tc.want)) {
			t.Errorf("Normalize(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_PercentageOfTargetSize(t *testing.T) {
	got, err := money.Normalize(money.Request{
		Amount: dec("50"),
		Kind:   ledger.AmountPercentage,
	}, dec("750000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("375000")) {
		t.Errorf("50%% of 750000 = %s, want 375000", got)
	}
}

func TestNormalize_PercentageUsesBankersRounding(t *testing.T) {
	// 1.25% of 1000 = 12.50 exactly; 0.125% of 100 = 0.125 -> 0.12
	got, err := money.Normalize(money.Request{
		Amount: dec("0.125"),
		Kind:   ledger.AmountPercentage,
	}, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("0.12")) {
		t.Errorf("0.125%% of 100 = %s, want 0.12", got)
	}
}

func TestNormalize_RejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5"} {
		_, err := money.Normalize(money.Request{
			Amount: dec(amount),
			Kind:   ledger.AmountAbsolute,
		}, decimal.Zero)

		var invalid *ledger.InvalidAmountError
		if !errors.As(err, &invalid) {
			t.Errorf("Normalize(%s): got %v, want InvalidAmountError", amount, err)
		}
	}
}

func TestNormalize_PercentageRejectsNonPositiveBase(t *testing.T) {
	for _, base := range []string{"0", "-100"} {
		_, err := money.Normalize(money.Request{
			Amount: dec("50"),
			Kind:   ledger.AmountPercentage,
		}, dec(base))

		var invalid *ledger.InvalidBaseError
		if !errors.As(err, &invalid) {
			t.Errorf("base %s: got %v, want InvalidBaseError", base, err)
		}
	}
}

func TestNormalize_RejectsUnknownKind(t *testing.T) {
	_, err := money.Normalize(money.Request{
		Amount: dec("100"),
		Kind:   ledger.AmountKind("ratio"),
	}, dec("1000"))

	var invalid *ledger.InvalidAmountError
	if !errors.As(err, &invalid) {
		t.Errorf("got %v, want InvalidAmountError", err)
	}
}

// ============================================================================
// Test: AsPercentageOf
// ============================================================================

func TestAsPercentageOf_RoundTrip(t *testing.T) {
	base := dec("750000")
	abs, err := money.Normalize(money.Request{
		Amount: dec("50"),
		Kind:   ledger.AmountPercentage,
	}, base)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	pct, err := money.AsPercentageOf(abs, base)
	if err != nil {
		t.Fatalf("as percentage: %v", err)
	}
	if !pct.Equal(dec("50")) {
		t.Errorf("round trip: got %s, want 50", pct)
	}
}

func TestAsPercentageOf_RejectsNonPositiveBase(t *testing.T) {
	_, err := money.AsPercentageOf(dec("100"), decimal.Zero)

	var invalid *ledger.InvalidBaseError
	if !errors.As(err, &invalid) {
		t.Errorf("got %v, want InvalidBaseError", err)
	}
}

// ============================================================================
// Test: Split
// ============================================================================

func TestSplit_EvenDivision(t *testing.T) {
	parts := money.Split(dec("300000"), 3)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	for i, p := range parts {
		if !p.Equal(dec("100000")) {
			t.Errorf("part %d = %s, want 100000", i, p)
		}
	}
}

func TestSplit_RemainderGoesToFirstTranche(t *testing.T) {
	parts := money.Split(dec("100000"), 3)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	if !parts[0].Equal(dec("33333.34")) {
		t.Errorf("part 0 = %s, want 33333.34", parts[0])
	}
	if !parts[1].Equal(dec("33333.33")) || !parts[2].Equal(dec("33333.33")) {
		t.Errorf("parts 1,2 = %s,%s, want 33333.33 each", parts[1], parts[2])
	}

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	if !sum.Equal(dec("100000")) {
		t.Errorf("parts sum to %s, want 100000", sum)
	}
}

func TestSplit_SinglePart(t *testing.T) {
	parts := money.Split(dec("42.42"), 1)
	if len(parts) != 1 || !parts[0].Equal(dec("42.42")) {
		t.Errorf("got %v, want [42.42]", parts)
	}
}

func TestSplit_NonPositiveCount(t *testing.T) {
	if parts := money.Split(dec("100"), 0); parts != nil {
		t.Errorf("got %v, want nil", parts)
	}
}
