/*
executor.go - Idempotent batch execution

PURPOSE:
  Walks an APPROVED batch's lines and settles each exactly once: generate (or
  reuse) the transaction reference, mark the line PAID and append the
  immutable payment record, all in one storage transaction per line. When
  every line is PAID the batch rolls to COMPLETED.

IDEMPOTENCY:
  Execute is safe to re-run after a crash or partial failure. A line that is
  already PAID with a payment record is counted as skipped and untouched; a
  line that carries a reference from an earlier attempt reuses it rather than
  generating a new one. References are unique per line and never reused.

  Funds were debited at approval time; this engine never touches the Ledger.
  It records THAT payment happened, it does not move money again.

CONCURRENCY:
  One execution per batch at a time, enforced by a per-batch run lock.
  Even without it no line can be paid twice - MarkLinePaid consumes the
  QUEUED precondition - but serializing keeps the summaries meaningful.
*/
package payout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/payrun/metrics"
)

// Executor settles approved batches.
type Executor struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	newRef   func() string

	mu   sync.Mutex
	runs map[BatchID]*sync.Mutex
}

func NewExecutor(store Store, notifier Notifier) *Executor {
	return &Executor{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		newRef:   func() string { return "TXN-" + uuid.NewString() },
		runs:     make(map[BatchID]*sync.Mutex),
	}
}

func (e *Executor) runLock(id BatchID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.runs[id]
	if !ok {
		m = &sync.Mutex{}
		e.runs[id] = m
	}
	return m
}

// Execute settles all outstanding lines of an APPROVED batch and reports
// what happened. Transient per-line failures are logged and leave the line
// QUEUED; the batch stays APPROVED so Execute can be re-invoked to finish.
func (e *Executor) Execute(ctx context.Context, batchID BatchID) (ExecutionSummary, error) {
	lock := e.runLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	start := e.now()
	defer func() { metrics.ExecutionRuns.Observe(time.Since(start).Seconds()) }()

	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return ExecutionSummary{}, err
	}
	// COMPLETED batches replay as an all-skipped no-op; that is what makes a
	// retried execute call safe rather than an error.
	if batch.Status != BatchApproved && batch.Status != BatchCompleted {
		return ExecutionSummary{}, &InvalidStateError{BatchID: batchID, Current: batch.Status, Want: BatchApproved}
	}

	lines, err := e.store.GetLines(ctx, batchID)
	if err != nil {
		return ExecutionSummary{}, err
	}

	summary := ExecutionSummary{TotalLines: len(lines)}
	for _, line := range lines {
		paid, skipped, err := e.settleLine(ctx, batch, line.ID)
		if err != nil {
			slog.Error("line settlement failed, will retry on next run",
				"batch", batchID,
				"line", line.ID,
				"error", err,
			)
			continue
		}
		if skipped {
			summary.SkippedLines++
			continue
		}
		if paid {
			summary.PaidLines++
			metrics.LinesPaid.Inc()
			notifyBestEffort(ctx, e.notifier, Event{
				Type:    EventLinePaid,
				OrgID:   batch.OrgID,
				BatchID: batchID,
				LineID:  line.ID,
				At:      e.now().UTC(),
			})
		}
	}

	summary.BatchStatus = batch.Status
	if batch.Status == BatchApproved && summary.PaidLines+summary.SkippedLines == summary.TotalLines {
		if err := e.complete(ctx, batchID); err != nil {
			return summary, err
		}
		summary.BatchStatus = BatchCompleted
	}

	slog.Info("batch execution finished",
		"batch", batchID,
		"total", summary.TotalLines,
		"paid", summary.PaidLines,
		"skipped", summary.SkippedLines,
		"status", summary.BatchStatus,
	)
	return summary, nil
}

// settleLine pays one line in a single transaction. The decision is
// idempotent: PAID with a record means skip; PAID without a record (a prior
// run died between commit boundaries) means finish the record with the
// persisted reference; otherwise pay.
func (e *Executor) settleLine(ctx context.Context, batch *Batch, lineID LineID) (paid, skipped bool, err error) {
	err = e.store.WithTx(ctx, func(tx Tx) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}

		if line.Status == LinePaid {
			rec, err := tx.PaymentByLine(ctx, lineID)
			if err != nil {
				return err
			}
			if rec != nil {
				skipped = true
				return nil
			}
			// Line committed as PAID but the record is missing: complete it
			// with the reference the line already carries.
			paid = true
			return tx.CreatePayment(ctx, e.recordFor(batch, line, line.TxnRef))
		}

		ref := line.TxnRef
		if ref == "" {
			ref = e.newRef()
		}
		if err := tx.MarkLinePaid(ctx, lineID, ref, e.now().UTC()); err != nil {
			return err
		}
		if err := tx.CreatePayment(ctx, e.recordFor(batch, line, ref)); err != nil {
			return err
		}
		paid = true
		return nil
	})
	return paid, skipped, err
}

func (e *Executor) recordFor(batch *Batch, line *BatchLine, ref string) PaymentRecord {
	return PaymentRecord{
		ID:            PaymentID("pay-" + uuid.NewString()),
		BatchID:       batch.ID,
		LineID:        line.ID,
		BeneficiaryID: line.BeneficiaryID,
		Breakdown:     line.Breakdown,
		Net:           line.Amount,
		TxnRef:        ref,
		GeneratedAt:   e.now().UTC(),
	}
}

func (e *Executor) complete(ctx context.Context, batchID BatchID) error {
	err := e.store.WithTx(ctx, func(tx Tx) error {
		return tx.TransitionBatch(ctx, batchID, BatchApproved, BatchCompleted, BatchMutation{})
	})
	if err != nil {
		return err
	}
	metrics.BatchesCompleted.Inc()
	return nil
}
