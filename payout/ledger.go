/*
ledger.go - Funding account ledger

PURPOSE:
  The sole mutation path for funding account balances. A debit acquires
  exclusive access to the one account involved, reads the balance, compares
  with exact decimal arithmetic, and either writes balance-amount or reports
  the shortfall without mutating anything.

LOCKING:
  Exclusive access is scoped to the single account, not global: the Ledger
  keeps one mutex per account id, so concurrent debits against the same
  account serialize while debits against different accounts proceed
  independently. The balance write is additionally guarded by the account's
  version token; a mismatch surfaces as ErrConcurrentModification, which is
  retryable.

  The approval workflow holds the account lock across its whole storage
  transaction (debit + batch status write) via WithAccountLock, so a crash
  or rollback between the two can never be observed.
*/
package payout

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridian/payrun/money"
)

// Ledger owns all balance mutations of funding accounts.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[AccountID]*sync.Mutex
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[AccountID]*sync.Mutex),
	}
}

// lockFor returns the mutex dedicated to one account, creating it on first
// use. Lock entries are never removed; the set of funding accounts is small
// and long-lived.
func (l *Ledger) lockFor(id AccountID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// WithAccountLock runs fn while holding exclusive access to the account.
// Callers that need a debit and another write to commit atomically run their
// whole storage transaction inside fn.
func (l *Ledger) WithAccountLock(id AccountID, fn func() error) error {
	m := l.lockFor(id)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// DebitTx debits amount from the account inside an already-open storage
// transaction. The caller must hold the account lock (WithAccountLock).
// Returns the new balance, or InsufficientFundsError without any mutation
// when the balance does not cover the amount.
func (l *Ledger) DebitTx(ctx context.Context, tx Tx, id AccountID, amount money.Amount) (money.Amount, error) {
	if !amount.IsPositive() {
		return money.Zero, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	acc, err := tx.GetAccount(ctx, id)
	if err != nil {
		return money.Zero, err
	}

	if acc.Balance.LessThan(amount) {
		return money.Zero, &InsufficientFundsError{
			AccountID: id,
			Required:  amount,
			Available: acc.Balance,
		}
	}

	newBalance := acc.Balance.Sub(amount)
	if err := tx.UpdateAccountBalance(ctx, id, newBalance, acc.Version); err != nil {
		return money.Zero, err
	}
	return newBalance, nil
}

// Debit acquires the account lock and debits in its own transaction.
func (l *Ledger) Debit(ctx context.Context, id AccountID, amount money.Amount) (money.Amount, error) {
	var newBalance money.Amount
	err := l.WithAccountLock(id, func() error {
		return l.store.WithTx(ctx, func(tx Tx) error {
			var err error
			newBalance, err = l.DebitTx(ctx, tx, id, amount)
			return err
		})
	})
	return newBalance, err
}

// Credit adds amount to the account, through the same locked, versioned
// path as debits. Used to fund accounts; reversal compensations use it too.
func (l *Ledger) Credit(ctx context.Context, id AccountID, amount money.Amount) (money.Amount, error) {
	if !amount.IsPositive() {
		return money.Zero, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	var newBalance money.Amount
	err := l.WithAccountLock(id, func() error {
		return l.store.WithTx(ctx, func(tx Tx) error {
			acc, err := tx.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			newBalance = acc.Balance.Add(amount)
			return tx.UpdateAccountBalance(ctx, id, newBalance, acc.Version)
		})
	})
	return newBalance, err
}
