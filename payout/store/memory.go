// Package store provides an in-memory payout.Store for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridian/payrun/money"
	"github.com/meridian/payrun/payout"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements payout.Store with maps. WithTx runs against a clone of
// the state and swaps it in on success, so a failing transaction leaves
// nothing behind - the same all-or-nothing contract the SQLite store gets
// from database transactions.
type Memory struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	accounts   map[payout.AccountID]payout.FundingAccount
	batches    map[payout.BatchID]payout.Batch
	lines      map[payout.LineID]payout.BatchLine
	batchLines map[payout.BatchID][]payout.LineID
	payments   map[payout.LineID]payout.PaymentRecord
	refs       map[string]payout.LineID
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() *state {
	return &state{
		accounts:   make(map[payout.AccountID]payout.FundingAccount),
		batches:    make(map[payout.BatchID]payout.Batch),
		lines:      make(map[payout.LineID]payout.BatchLine),
		batchLines: make(map[payout.BatchID][]payout.LineID),
		payments:   make(map[payout.LineID]payout.PaymentRecord),
		refs:       make(map[string]payout.LineID),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.batchLines {
		ids := make([]payout.LineID, len(v))
		copy(ids, v)
		c.batchLines[k] = ids
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx clones the state, applies fn to the clone and swaps it in on
// success. Serialized by the store mutex.
func (m *Memory) WithTx(_ context.Context, fn func(payout.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(&memTx{s: working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// memTx is the transactional view over a (cloned) state.
type memTx struct {
	s *state
}

// Top-level (auto-commit) operations reuse memTx against the live state.
func (m *Memory) view() *memTx { return &memTx{s: m.state} }

func (m *Memory) GetAccount(ctx context.Context, id payout.AccountID) (*payout.FundingAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetAccount(ctx, id)
}

func (m *Memory) VerifiedAccount(ctx context.Context, org payout.OrgID) (*payout.FundingAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().VerifiedAccount(ctx, org)
}

func (m *Memory) UpdateAccountBalance(ctx context.Context, id payout.AccountID, balance money.Amount, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateAccountBalance(ctx, id, balance, expectedVersion)
}

func (m *Memory) GetBatch(ctx context.Context, id payout.BatchID) (*payout.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetBatch(ctx, id)
}

func (m *Memory) GetLines(ctx context.Context, batch payout.BatchID) ([]payout.BatchLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetLines(ctx, batch)
}

func (m *Memory) GetLine(ctx context.Context, id payout.LineID) (*payout.BatchLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetLine(ctx, id)
}

func (m *Memory) TransitionBatch(ctx context.Context, id payout.BatchID, from, to payout.BatchStatus, mut payout.BatchMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().TransitionBatch(ctx, id, from, to, mut)
}

func (m *Memory) MarkLinePaid(ctx context.Context, id payout.LineID, txnRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().MarkLinePaid(ctx, id, txnRef, at)
}

func (m *Memory) CreatePayment(ctx context.Context, rec payout.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreatePayment(ctx, rec)
}

func (m *Memory) PaymentByLine(ctx context.Context, line payout.LineID) (*payout.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().PaymentByLine(ctx, line)
}

func (m *Memory) CreateAccount(_ context.Context, acc *payout.FundingAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.state.accounts[acc.ID]; exists {
		return fmt.Errorf("account %s already exists", acc.ID)
	}
	stored := *acc
	if stored.Verification == "" {
		stored.Verification = payout.VerificationPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.state.accounts[acc.ID] = stored
	return nil
}

func (m *Memory) CreateBatch(_ context.Context, batch *payout.Batch, lines []payout.BatchLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.state.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	m.state.batches[batch.ID] = *batch
	ids := make([]payout.LineID, 0, len(lines))
	for _, line := range lines {
		m.state.lines[line.ID] = line
		ids = append(ids, line.ID)
	}
	m.state.batchLines[batch.ID] = ids
	return nil
}

func (m *Memory) ListPendingBatches(_ context.Context, org payout.OrgID) ([]payout.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payout.Batch
	for _, b := range m.state.batches {
		if b.Status != payout.BatchPending {
			continue
		}
		if org != "" && b.OrgID != org {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPayments(_ context.Context, batch payout.BatchID) ([]payout.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payout.PaymentRecord
	for _, rec := range m.state.payments {
		if rec.BatchID == batch {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// TX OPERATIONS
// =============================================================================

func (t *memTx) GetAccount(_ context.Context, id payout.AccountID) (*payout.FundingAccount, error) {
	acc, ok := t.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrAccountNotFound, id)
	}
	return &acc, nil
}

func (t *memTx) VerifiedAccount(_ context.Context, org payout.OrgID) (*payout.FundingAccount, error) {
	var verified []payout.FundingAccount
	for _, acc := range t.s.accounts {
		if acc.HolderID == org && acc.Verification == payout.VerificationVerified {
			verified = append(verified, acc)
		}
	}
	if len(verified) == 0 {
		return nil, fmt.Errorf("%w: org %s", payout.ErrNoVerifiedAccount, org)
	}
	// Oldest verified account wins when there are several.
	sort.Slice(verified, func(i, j int) bool {
		if verified[i].CreatedAt.Equal(verified[j].CreatedAt) {
			return verified[i].ID < verified[j].ID
		}
		return verified[i].CreatedAt.Before(verified[j].CreatedAt)
	})
	return &verified[0], nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, id payout.AccountID, balance money.Amount, expectedVersion int64) error {
	acc, ok := t.s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", payout.ErrAccountNotFound, id)
	}
	if acc.Version != expectedVersion {
		return payout.ErrConcurrentModification
	}
	acc.Balance = balance
	acc.Version++
	t.s.accounts[id] = acc
	return nil
}

func (t *memTx) GetBatch(_ context.Context, id payout.BatchID) (*payout.Batch, error) {
	b, ok := t.s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrBatchNotFound, id)
	}
	return &b, nil
}

func (t *memTx) GetLines(_ context.Context, batch payout.BatchID) ([]payout.BatchLine, error) {
	if _, ok := t.s.batches[batch]; !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrBatchNotFound, batch)
	}
	ids := t.s.batchLines[batch]
	out := make([]payout.BatchLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.s.lines[id])
	}
	return out, nil
}

func (t *memTx) GetLine(_ context.Context, id payout.LineID) (*payout.BatchLine, error) {
	line, ok := t.s.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrLineNotFound, id)
	}
	return &line, nil
}

func (t *memTx) TransitionBatch(_ context.Context, id payout.BatchID, from, to payout.BatchStatus, mut payout.BatchMutation) error {
	b, ok := t.s.batches[id]
	if !ok {
		return fmt.Errorf("%w: %s", payout.ErrBatchNotFound, id)
	}
	if b.Status != from {
		return &payout.InvalidStateError{BatchID: id, Current: b.Status, Want: from}
	}
	b.Status = to
	if mut.Reviewer != "" {
		b.Reviewer = mut.Reviewer
	}
	if mut.ReviewedAt != nil {
		b.ReviewedAt = mut.ReviewedAt
	}
	if mut.RejectionReason != "" {
		b.RejectionReason = mut.RejectionReason
	}
	t.s.batches[id] = b
	return nil
}

func (t *memTx) MarkLinePaid(_ context.Context, id payout.LineID, txnRef string, at time.Time) error {
	line, ok := t.s.lines[id]
	if !ok {
		return fmt.Errorf("%w: %s", payout.ErrLineNotFound, id)
	}
	if line.Status != payout.LineQueued {
		return fmt.Errorf("%w: %s", payout.ErrLineAlreadyPaid, id)
	}
	if owner, used := t.s.refs[txnRef]; used && owner != id {
		return fmt.Errorf("transaction reference %s already used by line %s", txnRef, owner)
	}
	line.Status = payout.LinePaid
	line.TxnRef = txnRef
	processedAt := at
	line.ProcessedAt = &processedAt
	t.s.lines[id] = line
	t.s.refs[txnRef] = id
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, rec payout.PaymentRecord) error {
	if _, exists := t.s.payments[rec.LineID]; exists {
		return fmt.Errorf("%w: %s", payout.ErrDuplicatePayment, rec.LineID)
	}
	t.s.payments[rec.LineID] = rec
	return nil
}

func (t *memTx) PaymentByLine(_ context.Context, line payout.LineID) (*payout.PaymentRecord, error) {
	rec, ok := t.s.payments[line]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
