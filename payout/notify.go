/*
notify.go - Batch lifecycle notifications

Notifications are strictly fire-and-forget: a failing or slow gateway must
never fail a payment or hold a storage transaction open. Services emit events
through notifyBestEffort AFTER their transaction commits; errors are logged
and swallowed at this boundary.
*/
package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian/payrun/money"
)

type EventType string

const (
	EventBatchCreated  EventType = "batch.created"
	EventBatchApproved EventType = "batch.approved"
	EventBatchRejected EventType = "batch.rejected"
	EventLinePaid      EventType = "line.paid"
)

// Event is the payload handed to the notification gateway.
type Event struct {
	Type    EventType
	OrgID   OrgID
	BatchID BatchID
	LineID  LineID
	Amount  money.Amount
	Reason  string
	At      time.Time
}

// Notifier is the notification gateway. Implementations may deliver email,
// webhooks, queues - the engine does not care and does not wait.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log. The default gateway for
// local runs.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	slog.Info("notification",
		"event", ev.Type,
		"org", ev.OrgID,
		"batch", ev.BatchID,
		"line", ev.LineID,
		"amount", ev.Amount,
	)
	return nil
}

// notifyBestEffort delivers ev and logs (never propagates) a failure.
func notifyBestEffort(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil {
		slog.Warn("notification delivery failed",
			"event", ev.Type,
			"batch", ev.BatchID,
			"line", ev.LineID,
			"error", err,
		)
	}
}
