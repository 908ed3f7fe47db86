/*
Package sqlite provides the SQLite-backed implementation of payout.Store.

PURPOSE:
  Production persistence for batches, lines, payment records and funding
  accounts. The same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  accounts:        funding account balances (exact decimal stored as TEXT,
                   never floating point) with a version token per row
  batches:         batch headers with status + review audit fields
  batch_lines:     one row per beneficiary line; txn_ref is UNIQUE so a
                   reference can never be reused across lines
  payment_records: append-only payslips; line_id is UNIQUE so at most one
                   record exists per line

TRANSITION GUARDS:
  Batch status writes are conditional UPDATEs of the form
  "SET status = new WHERE id = ? AND status = expected". The precondition is
  consumed atomically with the write, so a racing second approval affects
  zero rows and surfaces as InvalidStateError.

WAL MODE:
  The database is opened with WAL and a busy timeout. Connections are capped
  at one: SQLite has a single writer anyway and one connection makes
  ":memory:" databases safe to share across goroutines in tests.

SEE ALSO:
  - payout/store.go: interface contracts
  - payout/store/memory.go: in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
)

// Store implements payout.Store plus the directory lookups.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Funding accounts. balance is an exact decimal rendered as TEXT;
	-- version is the optimistic lock token bumped on every balance write.
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		verification TEXT NOT NULL DEFAULT 'pending',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_holder
		ON accounts(holder_id, verification);

	-- Batch headers. Never deleted.
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		period TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		created_by TEXT,
		reviewer TEXT,
		created_at TEXT NOT NULL,
		reviewed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batches_org_status
		ON batches(org_id, status);
	CREATE INDEX IF NOT EXISTS idx_batches_status
		ON batches(status);

	-- Batch lines. txn_ref UNIQUE: a reference is set once and never
	-- reused across lines.
	CREATE TABLE IF NOT EXISTS batch_lines (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		beneficiary_id TEXT NOT NULL,
		beneficiary_name TEXT,
		amount TEXT NOT NULL,
		breakdown_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		txn_ref TEXT UNIQUE,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lines_batch
		ON batch_lines(batch_id);

	-- Payment records (payslips). Append-only; line_id UNIQUE enforces at
	-- most one record per line.
	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		line_id TEXT NOT NULL UNIQUE,
		beneficiary_id TEXT NOT NULL,
		breakdown_json TEXT NOT NULL,
		net TEXT NOT NULL,
		txn_ref TEXT NOT NULL UNIQUE,
		generated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_batch
		ON payment_records(batch_id);

	-- Directory tables: the minimal organization/beneficiary state the
	-- engine consults. Full CRUD lives in another service.
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		template_json TEXT,
		override_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_beneficiaries_org
		ON beneficiaries(org_id, kind, active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements payout.Tx against either the pool or an open tx.
type queries struct {
	q querier
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payout.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acc *payout.FundingAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.Verification == "" {
		acc.Verification = payout.VerificationPending
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, holder_id, balance, verification, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.HolderID, acc.Balance.String(), acc.Verification, acc.Version,
		acc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id payout.AccountID) (*payout.FundingAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).GetAccount(ctx, id)
}

func (s *Store) VerifiedAccount(ctx context.Context, org payout.OrgID) (*payout.FundingAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).VerifiedAccount(ctx, org)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, id payout.AccountID, balance money.Amount, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{q: s.db}).UpdateAccountBalance(ctx, id, balance, expectedVersion)
}

func (t *queries) GetAccount(ctx context.Context, id payout.AccountID) (*payout.FundingAccount, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, holder_id, balance, verification, version, created_at
		FROM accounts WHERE id = ?`, id)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrAccountNotFound, id)
	}
	return acc, err
}

func (t *queries) VerifiedAccount(ctx context.Context, org payout.OrgID) (*payout.FundingAccount, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, holder_id, balance, verification, version, created_at
		FROM accounts
		WHERE holder_id = ? AND verification = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, org, payout.VerificationVerified)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: org %s", payout.ErrNoVerifiedAccount, org)
	}
	return acc, err
}

func (t *queries) UpdateAccountBalance(ctx context.Context, id payout.AccountID, balance money.Amount, expectedVersion int64) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		balance.String(), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := t.GetAccount(ctx, id); err != nil {
			return err
		}
		return payout.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// BATCHES + LINES
// =============================================================================

// CreateBatch persists the batch header and all lines in one transaction.
func (s *Store) CreateBatch(ctx context.Context, batch *payout.Batch, lines []payout.BatchLine) error {
	return s.WithTx(ctx, func(tx payout.Tx) error {
		t := tx.(*queries)
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO batches
			(id, org_id, kind, period, total, status, rejection_reason, created_by, reviewer, created_at, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.ID, batch.OrgID, batch.Kind, batch.Period.String(), batch.Total.String(),
			batch.Status, nullString(batch.RejectionReason), batch.CreatedBy, batch.Reviewer,
			batch.CreatedAt.Format(time.RFC3339), nullTime(batch.ReviewedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		for _, line := range lines {
			breakdownJSON, err := json.Marshal(line.Breakdown)
			if err != nil {
				return err
			}
			_, err = t.q.ExecContext(ctx, `
				INSERT INTO batch_lines
				(id, batch_id, beneficiary_id, beneficiary_name, amount, breakdown_json, status, txn_ref, processed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				line.ID, line.BatchID, line.BeneficiaryID, line.BeneficiaryName,
				line.Amount.String(), string(breakdownJSON), line.Status,
				nullString(line.TxnRef), nullTime(line.ProcessedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert line %s: %w", line.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) GetBatch(ctx context.Context, id payout.BatchID) (*payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).GetBatch(ctx, id)
}

func (s *Store) GetLines(ctx context.Context, batch payout.BatchID) ([]payout.BatchLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).GetLines(ctx, batch)
}

func (s *Store) GetLine(ctx context.Context, id payout.LineID) (*payout.BatchLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).GetLine(ctx, id)
}

func (s *Store) TransitionBatch(ctx context.Context, id payout.BatchID, from, to payout.BatchStatus, mut payout.BatchMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{q: s.db}).TransitionBatch(ctx, id, from, to, mut)
}

func (s *Store) ListPendingBatches(ctx context.Context, org payout.OrgID) ([]payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, org_id, kind, period, total, status, rejection_reason, created_by, reviewer, created_at, reviewed_at
		FROM batches WHERE status = ?`
	args := []any{payout.BatchPending}
	if org != "" {
		query += ` AND org_id = ?`
		args = append(args, org)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending batches: %w", err)
	}
	defer rows.Close()

	var out []payout.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *queries) GetBatch(ctx context.Context, id payout.BatchID) (*payout.Batch, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, org_id, kind, period, total, status, rejection_reason, created_by, reviewer, created_at, reviewed_at
		FROM batches WHERE id = ?`, id)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrBatchNotFound, id)
	}
	return b, err
}

func (t *queries) GetLines(ctx context.Context, batch payout.BatchID) ([]payout.BatchLine, error) {
	if _, err := t.GetBatch(ctx, batch); err != nil {
		return nil, err
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, batch_id, beneficiary_id, beneficiary_name, amount, breakdown_json, status, txn_ref, processed_at
		FROM batch_lines WHERE batch_id = ? ORDER BY rowid ASC`, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var out []payout.BatchLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *line)
	}
	return out, rows.Err()
}

func (t *queries) GetLine(ctx context.Context, id payout.LineID) (*payout.BatchLine, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, batch_id, beneficiary_id, beneficiary_name, amount, breakdown_json, status, txn_ref, processed_at
		FROM batch_lines WHERE id = ?`, id)

	line, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrLineNotFound, id)
	}
	return line, err
}

// TransitionBatch consumes the expected prior status atomically with the
// status write. Zero rows affected means the precondition did not hold.
func (t *queries) TransitionBatch(ctx context.Context, id payout.BatchID, from, to payout.BatchStatus, mut payout.BatchMutation) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE batches SET
			status = ?,
			reviewer = CASE WHEN ? <> '' THEN ? ELSE reviewer END,
			reviewed_at = COALESCE(?, reviewed_at),
			rejection_reason = CASE WHEN ? <> '' THEN ? ELSE rejection_reason END
		WHERE id = ? AND status = ?`,
		to,
		mut.Reviewer, mut.Reviewer,
		nullTime(mut.ReviewedAt),
		mut.RejectionReason, mut.RejectionReason,
		id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := t.GetBatch(ctx, id)
		if err != nil {
			return err
		}
		return &payout.InvalidStateError{BatchID: id, Current: current.Status, Want: from}
	}
	return nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func (s *Store) MarkLinePaid(ctx context.Context, id payout.LineID, txnRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{q: s.db}).MarkLinePaid(ctx, id, txnRef, at)
}

func (s *Store) CreatePayment(ctx context.Context, rec payout.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{q: s.db}).CreatePayment(ctx, rec)
}

func (s *Store) PaymentByLine(ctx context.Context, line payout.LineID) (*payout.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&queries{q: s.db}).PaymentByLine(ctx, line)
}

func (s *Store) ListPayments(ctx context.Context, batch payout.BatchID) ([]payout.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, line_id, beneficiary_id, breakdown_json, net, txn_ref, generated_at
		FROM payment_records WHERE batch_id = ? ORDER BY generated_at ASC, rowid ASC`, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []payout.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (t *queries) MarkLinePaid(ctx context.Context, id payout.LineID, txnRef string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE batch_lines SET status = ?, txn_ref = ?, processed_at = ?
		WHERE id = ? AND status = ?`,
		payout.LinePaid, txnRef, at.Format(time.RFC3339), id, payout.LineQueued,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction reference %s already in use: %w", txnRef, err)
		}
		return fmt.Errorf("failed to mark line paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := t.GetLine(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", payout.ErrLineAlreadyPaid, id)
	}
	return nil
}

func (t *queries) CreatePayment(ctx context.Context, rec payout.PaymentRecord) error {
	breakdownJSON, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO payment_records
		(id, batch_id, line_id, beneficiary_id, breakdown_json, net, txn_ref, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.LineID, rec.BeneficiaryID,
		string(breakdownJSON), rec.Net.String(), rec.TxnRef,
		rec.GeneratedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", payout.ErrDuplicatePayment, rec.LineID)
		}
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

func (t *queries) PaymentByLine(ctx context.Context, line payout.LineID) (*payout.PaymentRecord, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, batch_id, line_id, beneficiary_id, breakdown_json, net, txn_ref, generated_at
		FROM payment_records WHERE line_id = ?`, line)

	rec, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*payout.FundingAccount, error) {
	var (
		acc       payout.FundingAccount
		balance   string
		createdAt string
	)
	if err := row.Scan(&acc.ID, &acc.HolderID, &balance, &acc.Verification, &acc.Version, &createdAt); err != nil {
		return nil, err
	}

	var err error
	acc.Balance, err = money.FromString(balance)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for account %s: %w", acc.ID, err)
	}
	acc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &acc, nil
}

func scanBatch(row scanner) (*payout.Batch, error) {
	var (
		b          payout.Batch
		period     string
		total      string
		reason     sql.NullString
		createdAt  string
		reviewedAt sql.NullString
	)
	if err := row.Scan(&b.ID, &b.OrgID, &b.Kind, &period, &total, &b.Status,
		&reason, &b.CreatedBy, &b.Reviewer, &createdAt, &reviewedAt); err != nil {
		return nil, err
	}

	var err error
	b.Period, err = payout.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	b.Total, err = money.FromString(total)
	if err != nil {
		return nil, fmt.Errorf("corrupt total for batch %s: %w", b.ID, err)
	}
	b.RejectionReason = reason.String
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if reviewedAt.Valid {
		t, _ := time.Parse(time.RFC3339, reviewedAt.String)
		b.ReviewedAt = &t
	}
	return &b, nil
}

func scanLine(row scanner) (*payout.BatchLine, error) {
	var (
		line          payout.BatchLine
		amount        string
		breakdownJSON string
		txnRef        sql.NullString
		processedAt   sql.NullString
	)
	if err := row.Scan(&line.ID, &line.BatchID, &line.BeneficiaryID, &line.BeneficiaryName,
		&amount, &breakdownJSON, &line.Status, &txnRef, &processedAt); err != nil {
		return nil, err
	}

	var err error
	line.Amount, err = money.FromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for line %s: %w", line.ID, err)
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &line.Breakdown); err != nil {
		return nil, fmt.Errorf("corrupt breakdown for line %s: %w", line.ID, err)
	}
	line.TxnRef = txnRef.String
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339, processedAt.String)
		line.ProcessedAt = &t
	}
	return &line, nil
}

func scanPayment(row scanner) (*payout.PaymentRecord, error) {
	var (
		rec           payout.PaymentRecord
		breakdownJSON string
		net           string
		generatedAt   string
	)
	if err := row.Scan(&rec.ID, &rec.BatchID, &rec.LineID, &rec.BeneficiaryID,
		&breakdownJSON, &net, &rec.TxnRef, &generatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(breakdownJSON), &rec.Breakdown); err != nil {
		return nil, fmt.Errorf("corrupt breakdown for payment %s: %w", rec.ID, err)
	}
	var err error
	rec.Net, err = money.FromString(net)
	if err != nil {
		return nil, fmt.Errorf("corrupt net for payment %s: %w", rec.ID, err)
	}
	rec.GeneratedAt, _ = time.Parse(time.RFC3339, generatedAt)
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
