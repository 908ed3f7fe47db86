/*
review.go - Approval workflow

STATE MACHINE:
  PENDING -> APPROVED   reviewer approves and the funding account covers the
                        total; debit and status write commit in one
                        transaction.
  PENDING -> REJECTED   reviewer rejects with a reason, OR the account cannot
                        cover the total. The latter is an auto-rejection: a
                        defined outcome of approval, not an error.

  Terminal once decided. A second review attempt fails with
  InvalidStateError; when two approvals race, the loser's PENDING
  precondition fails inside the transaction and its debit rolls back, so the
  account is debited at most once per batch.
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian/payrun/metrics"
	"github.com/meridian/payrun/money"
)

// Decision tags the outcome of an approval attempt.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionAutoRejected Decision = "auto_rejected"
)

// ReviewOutcome is the tagged result of Approve. AutoRejected carries the
// system-generated reason; Approved carries the account's new balance.
type ReviewOutcome struct {
	Decision   Decision
	Reason     string
	NewBalance money.Amount
}

// Review runs the approval workflow.
type Review struct {
	store    Store
	ledger   *Ledger
	notifier Notifier
	now      func() time.Time
}

func NewReview(store Store, ledger *Ledger, notifier Notifier) *Review {
	return &Review{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		now:      time.Now,
	}
}

// Approve reviews a PENDING batch. On sufficient funds the batch turns
// APPROVED and the account is debited; on a shortfall the batch turns
// REJECTED with a system-generated reason and the balance stays untouched.
// Both paths are ReviewOutcomes, not errors.
func (r *Review) Approve(ctx context.Context, batchID BatchID, reviewer string) (ReviewOutcome, error) {
	batch, err := r.store.GetBatch(ctx, batchID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if batch.Status != BatchPending {
		return ReviewOutcome{}, &InvalidStateError{BatchID: batchID, Current: batch.Status, Want: BatchPending}
	}

	// Resolved before any lock is taken.
	account, err := r.store.VerifiedAccount(ctx, batch.OrgID)
	if err != nil {
		return ReviewOutcome{}, err
	}

	var outcome ReviewOutcome
	now := r.now().UTC()

	err = r.ledger.WithAccountLock(account.ID, func() error {
		return r.store.WithTx(ctx, func(tx Tx) error {
			newBalance, debitErr := r.ledger.DebitTx(ctx, tx, account.ID, batch.Total)

			var shortfall *InsufficientFundsError
			switch {
			case debitErr == nil:
				if err := tx.TransitionBatch(ctx, batchID, BatchPending, BatchApproved, BatchMutation{
					Reviewer:   reviewer,
					ReviewedAt: &now,
				}); err != nil {
					return err // rolls the debit back
				}
				outcome = ReviewOutcome{Decision: DecisionApproved, NewBalance: newBalance}
				return nil

			case errors.As(debitErr, &shortfall):
				// Defined outcome: reject with the shortfall reason. The
				// failed debit wrote nothing, so committing here only
				// records the rejection.
				reason := shortfall.Reason()
				if err := tx.TransitionBatch(ctx, batchID, BatchPending, BatchRejected, BatchMutation{
					Reviewer:        reviewer,
					ReviewedAt:      &now,
					RejectionReason: reason,
				}); err != nil {
					return err
				}
				outcome = ReviewOutcome{Decision: DecisionAutoRejected, Reason: reason}
				return nil

			default:
				return debitErr
			}
		})
	})
	if err != nil {
		return ReviewOutcome{}, err
	}

	switch outcome.Decision {
	case DecisionApproved:
		slog.Info("batch approved",
			"batch", batchID,
			"reviewer", reviewer,
			"debited", batch.Total,
			"new_balance", outcome.NewBalance,
		)
		metrics.BatchesApproved.Inc()
		notifyBestEffort(ctx, r.notifier, Event{
			Type:    EventBatchApproved,
			OrgID:   batch.OrgID,
			BatchID: batchID,
			Amount:  batch.Total,
			At:      now,
		})
	case DecisionAutoRejected:
		slog.Info("batch auto-rejected", "batch", batchID, "reason", outcome.Reason)
		metrics.BatchesRejected.WithLabelValues("insufficient_funds").Inc()
		notifyBestEffort(ctx, r.notifier, Event{
			Type:    EventBatchRejected,
			OrgID:   batch.OrgID,
			BatchID: batchID,
			Reason:  outcome.Reason,
			At:      now,
		})
	}

	return outcome, nil
}

// Reject declines a PENDING batch with the reviewer's reason. No ledger
// interaction.
func (r *Review) Reject(ctx context.Context, batchID BatchID, reviewer, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}

	batch, err := r.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != BatchPending {
		return &InvalidStateError{BatchID: batchID, Current: batch.Status, Want: BatchPending}
	}

	now := r.now().UTC()
	err = r.store.WithTx(ctx, func(tx Tx) error {
		return tx.TransitionBatch(ctx, batchID, BatchPending, BatchRejected, BatchMutation{
			Reviewer:        reviewer,
			ReviewedAt:      &now,
			RejectionReason: reason,
		})
	})
	if err != nil {
		return fmt.Errorf("reject batch %s: %w", batchID, err)
	}

	slog.Info("batch rejected", "batch", batchID, "reviewer", reviewer, "reason", reason)
	metrics.BatchesRejected.WithLabelValues("reviewer").Inc()
	notifyBestEffort(ctx, r.notifier, Event{
		Type:    EventBatchRejected,
		OrgID:   batch.OrgID,
		BatchID: batchID,
		Reason:  reason,
		At:      now,
	})
	return nil
}
