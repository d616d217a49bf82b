package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

func failureLabel(m *models.Mutation) string {
	switch m.FailureKind {
	case models.FailureRejected:
		return "rejected, held: " + m.LastError
	case models.FailureTransient:
		return "will retry: " + m.LastError
	default:
		return "waiting"
	}
}

// Pending prints the queued writes in delivery order with their last
// failure, if any.
func (a *App) Pending(ctx context.Context) error {
	pending := a.syncer.Pending()
	if len(pending) == 0 {
		a.printf("Nothing pending")
		return nil
	}

	for _, m := range pending {
		a.printf("%s  %-6s %s/%s  queued %s  attempts %d  %s",
			m.ID, m.Operation, m.Target, m.RecordID(),
			m.EnqueuedAt.Local().Format(time.DateTime), m.Attempts, failureLabel(m))
	}
	return nil
}

// Sync drains the queue now and prints what happened.
func (a *App) Sync(ctx context.Context) error {
	res, err := a.syncer.Drain(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		a.printf("Sync skipped: %s", res.SkipReason)
		return nil
	}

	a.printf("Applied %d, will retry %d, rejected %d, deferred %d, held %d; %d pending",
		res.Applied, res.Retryable, res.Rejected, res.Deferred, res.Held, a.syncer.PendingCount())
	return nil
}

// Retry clears the failure of a held write so the next sync sends it again.
func (a *App) Retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("retry <id>")
	}
	if err := a.syncer.Retry(ctx, args[0]); err != nil {
		return err
	}
	a.printf("Retry scheduled for %s", args[0])
	return nil
}

func (a *App) isPending(id string) bool {
	for _, m := range a.syncer.Pending() {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Discard drops a queued write without sending it.
func (a *App) Discard(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("discard <id>")
	}
	if !a.isPending(args[0]) {
		return fmt.Errorf("no pending write %s", args[0])
	}
	if err := a.syncer.Discard(ctx, args[0]); err != nil {
		return err
	}
	a.printf("Discarded %s", args[0])
	return nil
}
