package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
)

// Memory is an in-process Store for tests and local runs without Postgres.
// One mutex serializes every unit of work, giving the same guarantees the
// Postgres store gets from row locks and constraints. RunAtomic snapshots
// the maps and restores them if fn fails, so partial writes never survive.
type Memory struct {
	mu          sync.Mutex
	funds       map[uuid.UUID]ledger.Fund
	deals       map[uuid.UUID]ledger.Deal
	commitments map[uuid.UUID]ledger.Commitment
	calls       map[uuid.UUID]ledger.CapitalCall
	payments    map[uuid.UUID]ledger.Payment
	pairs       map[pairKey]uuid.UUID // (fund, deal) uniqueness index
}

type pairKey struct {
	fund uuid.UUID
	deal uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		funds:       make(map[uuid.UUID]ledger.Fund),
		deals:       make(map[uuid.UUID]ledger.Deal),
		commitments: make(map[uuid.UUID]ledger.Commitment),
		calls:       make(map[uuid.UUID]ledger.CapitalCall),
		payments:    make(map[uuid.UUID]ledger.Payment),
		pairs:       make(map[pairKey]uuid.UUID),
	}
}

// PutFund seeds a fund. Funds are a read-only collaborator of the ledger, so
// there is no Tx method for this.
func (m *Memory) PutFund(f ledger.Fund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[f.ID] = f
}

// PutDeal seeds a deal.
func (m *Memory) PutDeal(d ledger.Deal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[d.ID] = d
}

func (m *Memory) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	commitments map[uuid.UUID]ledger.Commitment
	calls       map[uuid.UUID]ledger.CapitalCall
	payments    map[uuid.UUID]ledger.Payment
	pairs       map[pairKey]uuid.UUID
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		commitments: make(map[uuid.UUID]ledger.Commitment, len(m.commitments)),
		calls:       make(map[uuid.UUID]ledger.CapitalCall, len(m.calls)),
		payments:    make(map[uuid.UUID]ledger.Payment, len(m.payments)),
		pairs:       make(map[pairKey]uuid.UUID, len(m.pairs)),
	}
	for k, v := range m.commitments {
		s.commitments[k] = v
	}
	for k, v := range m.calls {
		s.calls[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	for k, v := range m.pairs {
		s.pairs[k] = v
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.commitments = s.commitments
	m.calls = s.calls
	m.payments = s.payments
	m.pairs = s.pairs
}

type memTx struct {
	m *Memory
}

// --- funds and deals ---

func (t *memTx) GetFund(ctx context.Context, id uuid.UUID) (ledger.Fund, error) {
	f, ok := t.m.funds[id]
	if !ok {
		return ledger.Fund{}, &ledger.NotFoundError{Kind: "fund", ID: id}
	}
	return f, nil
}

func (t *memTx) GetFundForUpdate(ctx context.Context, id uuid.UUID) (ledger.Fund, error) {
	// The store-wide mutex already serializes; the lock upgrade is a no-op.
	return t.GetFund(ctx, id)
}

func (t *memTx) GetDeal(ctx context.Context, id uuid.UUID) (ledger.Deal, error) {
	d, ok := t.m.deals[id]
	if !ok {
		return ledger.Deal{}, &ledger.NotFoundError{Kind: "deal", ID: id}
	}
	return d, nil
}

func (t *memTx) ListFundIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(t.m.funds))
	for id := range t.m.funds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// --- commitments ---

func (t *memTx) InsertCommitment(ctx context.Context, c ledger.Commitment) error {
	key := pairKey{fund: c.FundID, deal: c.DealID}
	if _, dup := t.m.pairs[key]; dup {
		return &ledger.DuplicateCommitmentError{FundID: c.FundID, DealID: c.DealID}
	}
	t.m.commitments[c.ID] = c
	t.m.pairs[key] = c.ID
	return nil
}

func (t *memTx) GetCommitment(ctx context.Context, id uuid.UUID) (ledger.Commitment, error) {
	c, ok := t.m.commitments[id]
	if !ok {
		return ledger.Commitment{}, &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	return c, nil
}

func (t *memTx) GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (ledger.Commitment, error) {
	return t.GetCommitment(ctx, id)
}

func (t *memTx) ListCommitmentsByFund(ctx context.Context, fundID uuid.UUID) ([]ledger.Commitment, error) {
	return t.listCommitments(func(c ledger.Commitment) bool { return c.FundID == fundID }), nil
}

func (t *memTx) ListCommitmentsByDeal(ctx context.Context, dealID uuid.UUID) ([]ledger.Commitment, error) {
	return t.listCommitments(func(c ledger.Commitment) bool { return c.DealID == dealID }), nil
}

func (t *memTx) listCommitments(match func(ledger.Commitment) bool) []ledger.Commitment {
	var out []ledger.Commitment
	for _, c := range t.m.commitments {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (t *memTx) SumCommittedByFund(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range t.m.commitments {
		if c.FundID == fundID {
			sum = sum.Add(c.CommittedAmount)
		}
	}
	return sum, nil
}

func (t *memTx) UpdateCommitmentDerived(ctx context.Context, id uuid.UUID, called, paid decimal.Decimal, status ledger.CommitmentStatus) error {
	c, ok := t.m.commitments[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	c.CalledAmount = called
	c.PaidAmount = paid
	c.Status = status
	t.m.commitments[id] = c
	return nil
}

func (t *memTx) UpdateCommitmentWeight(ctx context.Context, id uuid.UUID, weight decimal.Decimal) error {
	c, ok := t.m.commitments[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	c.PortfolioWeight = weight
	t.m.commitments[id] = c
	return nil
}

func (t *memTx) AddCommitmentPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	c, ok := t.m.commitments[id]
	if !ok {
		return decimal.Decimal{}, false, &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	if c.PaidAmount.Add(amount).GreaterThan(c.CommittedAmount) {
		return decimal.Decimal{}, false, nil
	}
	c.PaidAmount = c.PaidAmount.Add(amount)
	t.m.commitments[id] = c
	return c.PaidAmount, true, nil
}

func (t *memTx) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	c, ok := t.m.commitments[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	delete(t.m.commitments, id)
	delete(t.m.pairs, pairKey{fund: c.FundID, deal: c.DealID})
	return nil
}

// --- calls ---

func (t *memTx) InsertCalls(ctx context.Context, calls []ledger.CapitalCall) error {
	for _, call := range calls {
		t.m.calls[call.ID] = call
	}
	return nil
}

func (t *memTx) GetCall(ctx context.Context, id uuid.UUID) (ledger.CapitalCall, error) {
	call, ok := t.m.calls[id]
	if !ok {
		return ledger.CapitalCall{}, &ledger.NotFoundError{Kind: "call", ID: id}
	}
	return call, nil
}

func (t *memTx) ListCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]ledger.CapitalCall, error) {
	var out []ledger.CapitalCall
	for _, call := range t.m.calls {
		if call.CommitmentID == commitmentID {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *memTx) AddCallPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	call, ok := t.m.calls[id]
	if !ok {
		return decimal.Decimal{}, false, &ledger.NotFoundError{Kind: "call", ID: id}
	}
	if call.PaidAmount.Add(amount).GreaterThan(call.CallAmount) {
		return decimal.Decimal{}, false, nil
	}
	call.PaidAmount = call.PaidAmount.Add(amount)
	t.m.calls[id] = call
	return call.PaidAmount, true, nil
}

func (t *memTx) UpdateCallStatus(ctx context.Context, id uuid.UUID, status ledger.CallStatus) error {
	call, ok := t.m.calls[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "call", ID: id}
	}
	call.Status = status
	t.m.calls[id] = call
	return nil
}

func (t *memTx) DeleteCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	for id, call := range t.m.calls {
		if call.CommitmentID == commitmentID {
			delete(t.m.calls, id)
		}
	}
	return nil
}

// --- payments ---

func (t *memTx) InsertPayment(ctx context.Context, p ledger.Payment) error {
	t.m.payments[p.ID] = p
	return nil
}

func (t *memTx) ListPaymentsByCall(ctx context.Context, callID uuid.UUID) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range t.m.payments {
		if p.CallID == callID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].AppliedAt.Before(out[j].AppliedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *memTx) DeletePaymentsByCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	for id, p := range t.m.payments {
		call, ok := t.m.calls[p.CallID]
		if ok && call.CommitmentID == commitmentID {
			delete(t.m.payments, id)
		}
	}
	return nil
}
