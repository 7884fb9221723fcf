package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
)

// Postgres is the production Store. Correctness under concurrent writers
// comes from the database: the unique index on (fund_id, deal_id), row-level
// locks via SELECT ... FOR UPDATE, and single-statement conditional updates
// for the running totals.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const uniqueViolation = "23505"

// --- funds and deals ---

func (t *pgTx) GetFund(ctx context.Context, id uuid.UUID) (ledger.Fund, error) {
	return t.scanFund(ctx, `
		SELECT id, name, target_size FROM allocations.funds WHERE id = $1
	`, id)
}

func (t *pgTx) GetFundForUpdate(ctx context.Context, id uuid.UUID) (ledger.Fund, error) {
	return t.scanFund(ctx, `
		SELECT id, name, target_size FROM allocations.funds WHERE id = $1 FOR UPDATE
	`, id)
}

func (t *pgTx) scanFund(ctx context.Context, query string, id uuid.UUID) (ledger.Fund, error) {
	var f ledger.Fund
	var target decimal.NullDecimal
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.Name, &target)
	if err == sql.ErrNoRows {
		return ledger.Fund{}, &ledger.NotFoundError{Kind: "fund", ID: id}
	}
	if err != nil {
		return ledger.Fund{}, fmt.Errorf("get fund: %w", err)
	}
	if target.Valid {
		f.TargetSize = &target.Decimal
	}
	return f, nil
}

func (t *pgTx) GetDeal(ctx context.Context, id uuid.UUID) (ledger.Deal, error) {
	var d ledger.Deal
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name FROM allocations.deals WHERE id = $1
	`, id).Scan(&d.ID, &d.Name)
	if err == sql.ErrNoRows {
		return ledger.Deal{}, &ledger.NotFoundError{Kind: "deal", ID: id}
	}
	if err != nil {
		return ledger.Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

func (t *pgTx) ListFundIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM allocations.funds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- commitments ---

const commitmentColumns = `
	id, fund_id, deal_id, committed_amount, called_amount, paid_amount,
	status, portfolio_weight, amount_kind, raw_amount, created_at, updated_at
`

func (t *pgTx) InsertCommitment(ctx context.Context, c ledger.Commitment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO allocations.commitments
			(id, fund_id, deal_id, committed_amount, called_amount, paid_amount,
			 status, portfolio_weight, amount_kind, raw_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.FundID, c.DealID, c.CommittedAmount, c.CalledAmount, c.PaidAmount,
		string(c.Status), c.PortfolioWeight, string(c.AmountKind), c.RawAmount,
		c.CreatedAt, c.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return &ledger.DuplicateCommitmentError{FundID: c.FundID, DealID: c.DealID}
	}
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}

func (t *pgTx) GetCommitment(ctx context.Context, id uuid.UUID) (ledger.Commitment, error) {
	return t.scanCommitment(ctx,
		`SELECT `+commitmentColumns+` FROM allocations.commitments WHERE id = $1`, id)
}

func (t *pgTx) GetCommitmentForUpdate(ctx context.Context, id uuid.UUID) (ledger.Commitment, error) {
	return t.scanCommitment(ctx,
		`SELECT `+commitmentColumns+` FROM allocations.commitments WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) scanCommitment(ctx context.Context, query string, id uuid.UUID) (ledger.Commitment, error) {
	c, err := scanCommitmentRow(t.tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return ledger.Commitment{}, &ledger.NotFoundError{Kind: "commitment", ID: id}
	}
	if err != nil {
		return ledger.Commitment{}, fmt.Errorf("get commitment: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommitmentRow(row rowScanner) (ledger.Commitment, error) {
	var c ledger.Commitment
	var status, kind string
	err := row.Scan(
		&c.ID, &c.FundID, &c.DealID, &c.CommittedAmount, &c.CalledAmount, &c.PaidAmount,
		&status, &c.PortfolioWeight, &kind, &c.RawAmount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return ledger.Commitment{}, err
	}
	c.Status = ledger.CommitmentStatus(status)
	c.AmountKind = ledger.AmountKind(kind)
	return c, nil
}

func (t *pgTx) ListCommitmentsByFund(ctx context.Context, fundID uuid.UUID) ([]ledger.Commitment, error) {
	return t.listCommitments(ctx,
		`SELECT `+commitmentColumns+` FROM allocations.commitments WHERE fund_id = $1 ORDER BY created_at`, fundID)
}

func (t *pgTx) ListCommitmentsByDeal(ctx context.Context, dealID uuid.UUID) ([]ledger.Commitment, error) {
	return t.listCommitments(ctx,
		`SELECT `+commitmentColumns+` FROM allocations.commitments WHERE deal_id = $1 ORDER BY created_at`, dealID)
}

func (t *pgTx) listCommitments(ctx context.Context, query string, arg uuid.UUID) ([]ledger.Commitment, error) {
	rows, err := t.tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Commitment
	for rows.Next() {
		c, err := scanCommitmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) SumCommittedByFund(ctx context.Context, fundID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(committed_amount), 0)
		FROM allocations.commitments WHERE fund_id = $1
	`, fundID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum committed: %w", err)
	}
	return sum, nil
}

func (t *pgTx) UpdateCommitmentDerived(ctx context.Context, id uuid.UUID, called, paid decimal.Decimal, status ledger.CommitmentStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE allocations.commitments
		SET called_amount = $2, paid_amount = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, called, paid, string(status))
	if err != nil {
		return fmt.Errorf("update commitment derived: %w", err)
	}
	return requireRow(res, "commitment", id)
}

func (t *pgTx) UpdateCommitmentWeight(ctx context.Context, id uuid.UUID, weight decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE allocations.commitments
		SET portfolio_weight = $2, updated_at = NOW()
		WHERE id = $1
	`, id, weight)
	if err != nil {
		return fmt.Errorf("update commitment weight: %w", err)
	}
	return requireRow(res, "commitment", id)
}

// AddCommitmentPaid is the atomic relative update for the commitment's paid
// total: the increment and the bound check happen in one statement, so two
// concurrent payments can never both pass a stale check. The RETURNING
// clause hands back the committed sum so callers never reason from a row
// version read before the update.
func (t *pgTx) AddCommitmentPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	var newPaid decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE allocations.commitments
		SET paid_amount = paid_amount + $2, updated_at = NOW()
		WHERE id = $1 AND paid_amount + $2 <= committed_amount
		RETURNING paid_amount
	`, id, amount).Scan(&newPaid)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("add commitment paid: %w", err)
	}
	return newPaid, true, nil
}

func (t *pgTx) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM allocations.commitments WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete commitment: %w", err)
	}
	return requireRow(res, "commitment", id)
}

// --- calls ---

func (t *pgTx) InsertCalls(ctx context.Context, calls []ledger.CapitalCall) error {
	for _, call := range calls {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO allocations.capital_calls
				(id, commitment_id, call_amount, paid_amount, due_date, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			call.ID, call.CommitmentID, call.CallAmount, call.PaidAmount,
			call.DueDate, string(call.Status), call.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetCall(ctx context.Context, id uuid.UUID) (ledger.CapitalCall, error) {
	var call ledger.CapitalCall
	var status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, commitment_id, call_amount, paid_amount, due_date, status, created_at
		FROM allocations.capital_calls WHERE id = $1
	`, id).Scan(
		&call.ID, &call.CommitmentID, &call.CallAmount, &call.PaidAmount,
		&call.DueDate, &status, &call.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return ledger.CapitalCall{}, &ledger.NotFoundError{Kind: "call", ID: id}
	}
	if err != nil {
		return ledger.CapitalCall{}, fmt.Errorf("get call: %w", err)
	}
	call.Status = ledger.CallStatus(status)
	return call, nil
}

func (t *pgTx) ListCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) ([]ledger.CapitalCall, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, commitment_id, call_amount, paid_amount, due_date, status, created_at
		FROM allocations.capital_calls WHERE commitment_id = $1 ORDER BY created_at, id
	`, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []ledger.CapitalCall
	for rows.Next() {
		var call ledger.CapitalCall
		var status string
		if err := rows.Scan(
			&call.ID, &call.CommitmentID, &call.CallAmount, &call.PaidAmount,
			&call.DueDate, &status, &call.CreatedAt,
		); err != nil {
			return nil, err
		}
		call.Status = ledger.CallStatus(status)
		out = append(out, call)
	}
	return out, rows.Err()
}

// AddCallPaid mirrors AddCommitmentPaid at the call level.
func (t *pgTx) AddCallPaid(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	var newPaid decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE allocations.capital_calls
		SET paid_amount = paid_amount + $2
		WHERE id = $1 AND paid_amount + $2 <= call_amount
		RETURNING paid_amount
	`, id, amount).Scan(&newPaid)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("add call paid: %w", err)
	}
	return newPaid, true, nil
}

func (t *pgTx) UpdateCallStatus(ctx context.Context, id uuid.UUID, status ledger.CallStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE allocations.capital_calls SET status = $2 WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	return requireRow(res, "call", id)
}

func (t *pgTx) DeleteCallsByCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM allocations.capital_calls WHERE commitment_id = $1
	`, commitmentID)
	if err != nil {
		return fmt.Errorf("delete calls: %w", err)
	}
	return nil
}

// --- payments ---

func (t *pgTx) InsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO allocations.payments (id, call_id, amount, applied_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.CallID, p.Amount, p.AppliedAt, p.RecordedBy)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) ListPaymentsByCall(ctx context.Context, callID uuid.UUID) ([]ledger.Payment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, call_id, amount, applied_at, recorded_by
		FROM allocations.payments WHERE call_id = $1 ORDER BY applied_at, id
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		var p ledger.Payment
		if err := rows.Scan(&p.ID, &p.CallID, &p.Amount, &p.AppliedAt, &p.RecordedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) DeletePaymentsByCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM allocations.payments
		WHERE call_id IN (
			SELECT id FROM allocations.capital_calls WHERE commitment_id = $1
		)
	`, commitmentID)
	if err != nil {
		return fmt.Errorf("delete payments: %w", err)
	}
	return nil
}

// --- helpers ---

func requireRow(res sql.Result, kind string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
