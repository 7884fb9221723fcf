package ledger_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ============================================================================
// Test: CommitmentStatusFor
// ============================================================================

func TestCommitmentStatusFor_Lifecycle(t *testing.T) {
	cases := []struct {
		name      string
		committed string
		called    string
		paid      string
		want      ledger.CommitmentStatus
	}{
		{"nothing called", "500000", "0", "0", ledger.StatusCommitted},
		{"called, unpaid", "500000", "200000", "0", ledger.StatusCalled},
		{"partially paid", "500000", "200000", "120000", ledger.StatusPartiallyPaid},
		{"fully paid", "500000", "500000", "500000", ledger.StatusFunded},
		{"paid without recorded call", "500000", "0", "100", ledger.StatusPartiallyPaid},
		{"overfunded edge", "500000", "500000", "500000.01", ledger.StatusFunded},
	}
	for _, tc := range cases {
		got := ledger.CommitmentStatusFor(dec(tc.committed), dec(tc.called), dec(tc.paid))
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestCommitmentStatusFor_FundedRequiresPositiveCommitted(t *testing.T) {
	got := ledger.CommitmentStatusFor(decimal.Zero, decimal.Zero, decimal.Zero)
	if got != ledger.StatusCommitted {
		t.Errorf("got %s, want committed", got)
	}
}

// ============================================================================
// Test: CallStatusFor
// ============================================================================

func TestCallStatusFor(t *testing.T) {
	cases := []struct {
		callAmount string
		paid       string
		want       ledger.CallStatus
	}{
		{"100000", "0", ledger.CallStatusPending},
		{"100000", "40000", ledger.CallStatusPartial},
		{"100000", "100000", ledger.CallStatusPaid},
	}
	for _, tc := range cases {
		got := ledger.CallStatusFor(dec(tc.callAmount), dec(tc.paid))
		if got != tc.want {
			t.Errorf("call %s paid %s: got %s, want %s", tc.callAmount, tc.paid, got, tc.want)
		}
	}
}

// ============================================================================
// Test: Reconcile
// ============================================================================

func TestReconcile_DerivesTotalsFromCalls(t *testing.T) {
	c := ledger.Commitment{
		ID:              uuid.New(),
		CommittedAmount: dec("500000"),
		// Stale cache, deliberately wrong
		CalledAmount: dec("1"),
		PaidAmount:   dec("999999"),
		Status:       ledger.StatusFunded,
	}
	calls := []ledger.CapitalCall{
		{CallAmount: dec("200000"), PaidAmount: dec("200000")},
		{CallAmount: dec("100000"), PaidAmount: dec("50000")},
	}

	rec := ledger.Reconcile(c, calls)
	if !rec.CalledAmount.Equal(dec("300000")) {
		t.Errorf("called = %s, want 300000", rec.CalledAmount)
	}
	if !rec.PaidAmount.Equal(dec("250000")) {
		t.Errorf("paid = %s, want 250000", rec.PaidAmount)
	}
	if rec.Status != ledger.StatusPartiallyPaid {
		t.Errorf("status = %s, want partially_paid", rec.Status)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	c := ledger.Commitment{CommittedAmount: dec("500000")}
	calls := []ledger.CapitalCall{
		{CallAmount: dec("250000"), PaidAmount: dec("250000")},
	}

	once := ledger.Reconcile(c, calls)
	twice := ledger.Reconcile(once, calls)
	if !once.CalledAmount.Equal(twice.CalledAmount) ||
		!once.PaidAmount.Equal(twice.PaidAmount) ||
		once.Status != twice.Status {
		t.Errorf("reconcile not idempotent: %+v vs %+v", once, twice)
	}
}

func TestReconcile_NoCalls(t *testing.T) {
	c := ledger.Commitment{CommittedAmount: dec("500000"), Status: ledger.StatusCalled}
	rec := ledger.Reconcile(c, nil)
	if rec.Status != ledger.StatusCommitted {
		t.Errorf("status = %s, want committed", rec.Status)
	}
	if !rec.CalledAmount.IsZero() || !rec.PaidAmount.IsZero() {
		t.Errorf("totals should be zero, got called=%s paid=%s", rec.CalledAmount, rec.PaidAmount)
	}
}

// ============================================================================
// Test: ProgressFor
// ============================================================================

func TestProgressFor(t *testing.T) {
	c := ledger.Commitment{
		ID:              uuid.New(),
		CommittedAmount: dec("400000"),
		CalledAmount:    dec("300000"),
		PaidAmount:      dec("100000"),
		Status:          ledger.StatusPartiallyPaid,
	}

	p := ledger.ProgressFor(c)
	if !p.Outstanding.Equal(dec("200000")) {
		t.Errorf("outstanding = %s, want 200000", p.Outstanding)
	}
	if !p.Uncalled.Equal(dec("100000")) {
		t.Errorf("uncalled = %s, want 100000", p.Uncalled)
	}
	if !p.PaidPercentage.Equal(dec("25")) {
		t.Errorf("paid percentage = %s, want 25", p.PaidPercentage)
	}
}

func TestProgressFor_ZeroCommitted(t *testing.T) {
	p := ledger.ProgressFor(ledger.Commitment{})
	if !p.PaidPercentage.IsZero() {
		t.Errorf("paid percentage = %s, want 0", p.PaidPercentage)
	}
}
