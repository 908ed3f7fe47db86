/*
store.go - Persistence interfaces for the payout engine

PURPOSE:
  Defines the contract between the engine and the database. Implementations:
  store/sqlite (production) and payout/store (in-memory, for tests).

MUTATION DISCIPLINE:
  - Batches transition only through TransitionBatch, which consumes the
    expected prior status in the same storage transaction as the write.
    A transition whose precondition no longer holds fails with
    InvalidStateError; this is what makes racing approvals lose cleanly.
  - payment_records is append-only: CreatePayment and reads, nothing else.
    At most one record per line, enforced by the store.
  - Account balances are written only through UpdateAccountBalance, guarded
    by the version token read under the account lock.

ATOMICITY:
  WithTx runs a function against a transactional view; either every write in
  it commits or none do. CreateBatch persists batch + lines in one
  transaction without requiring callers to open one.
*/
package payout

import (
	"context"
	"time"

	"github.com/meridian/payrun/money"
)

// BatchMutation carries the reviewer-supplied fields written alongside a
// status transition.
type BatchMutation struct {
	Reviewer        string
	ReviewedAt      *time.Time
	RejectionReason string
}

// Tx is the set of operations available inside a storage transaction.
type Tx interface {
	// --- funding accounts ---

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*FundingAccount, error)

	// VerifiedAccount resolves the organization's single VERIFIED funding
	// account, or ErrNoVerifiedAccount.
	VerifiedAccount(ctx context.Context, org OrgID) (*FundingAccount, error)

	// UpdateAccountBalance writes a new balance and bumps the version token.
	// Fails with ErrConcurrentModification if the stored version no longer
	// matches expectedVersion. Only the Ledger calls this.
	UpdateAccountBalance(ctx context.Context, id AccountID, balance money.Amount, expectedVersion int64) error

	// --- batches ---

	// GetBatch returns the batch or ErrBatchNotFound.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// GetLines returns all lines of a batch in creation order.
	GetLines(ctx context.Context, batch BatchID) ([]BatchLine, error)

	// GetLine returns one line or ErrLineNotFound.
	GetLine(ctx context.Context, id LineID) (*BatchLine, error)

	// TransitionBatch moves a batch from to to, writing mut's fields.
	// Fails with InvalidStateError when the batch is not currently in from.
	TransitionBatch(ctx context.Context, id BatchID, from, to BatchStatus, mut BatchMutation) error

	// --- settlement ---

	// MarkLinePaid sets status PAID, the transaction reference and the
	// processed timestamp. Fails with ErrLineAlreadyPaid if the line is not
	// QUEUED.
	MarkLinePaid(ctx context.Context, id LineID, txnRef string, at time.Time) error

	// CreatePayment appends an immutable payment record. Fails with
	// ErrDuplicatePayment if the line already has one.
	CreatePayment(ctx context.Context, rec PaymentRecord) error

	// PaymentByLine returns the line's payment record, or (nil, nil) when
	// none exists yet.
	PaymentByLine(ctx context.Context, line LineID) (*PaymentRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	Tx

	// CreateAccount persists a new funding account.
	CreateAccount(ctx context.Context, acc *FundingAccount) error

	// CreateBatch persists a batch and all its lines in one transaction.
	CreateBatch(ctx context.Context, batch *Batch, lines []BatchLine) error

	// ListPendingBatches returns PENDING batches, optionally filtered by
	// organization (empty org means all).
	ListPendingBatches(ctx context.Context, org OrgID) ([]Batch, error)

	// ListPayments returns all payment records of a batch.
	ListPayments(ctx context.Context, batch BatchID) ([]PaymentRecord, error)

	// WithTx executes fn transactionally: all writes commit together or roll
	// back together.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Close releases store resources.
	Close() error
}
