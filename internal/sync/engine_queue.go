package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jubeeworld/synckit/internal/queue"
	"github.com/jubeeworld/synckit/internal/store"
)

// ProcessQueue replays due queued operations against the backend. Signed-out
// and offline states skip silently, leaving the queue intact for the next run.
func (e *Engine) ProcessQueue(ctx context.Context) (*queue.Report, error) {
	if !e.network.Online() {
		slog.Debug("queue processing skipped", "reason", "offline")
		return &queue.Report{}, nil
	}
	if _, ok := e.identity.CurrentUser(); !ok {
		slog.Debug("queue processing skipped", "reason", "no identity")
		return &queue.Report{}, nil
	}

	report, err := e.queue.Process(ctx, e.replay)
	if err != nil {
		return report, fmt.Errorf("process retry queue: %w", err)
	}
	if report.Processed > 0 || report.Failed > 0 || report.Dropped > 0 {
		slog.Info("queue processed",
			"processed", report.Processed,
			"failed", report.Failed,
			"remaining", report.Remaining,
			"dropped", report.Dropped,
		)
	}
	return report, nil
}

// QueueStats reports pending and dead-letter counts.
func (e *Engine) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return e.queue.Stats(ctx)
}

// DeadLetters returns operations dropped after exhausting their attempts.
func (e *Engine) DeadLetters(ctx context.Context) ([]*queue.Operation, error) {
	return e.queue.DeadLetters(ctx)
}

// replay pushes one queued record and, on success, marks the local copy
// synced the same way the main push path does.
func (e *Engine) replay(ctx context.Context, op *queue.Operation) error {
	if op.Kind != queue.KindPush || op.Record == nil {
		return fmt.Errorf("malformed queued operation %s (kind %q)", op.ID, op.Kind)
	}
	if err := e.backend.Push(ctx, op.Collection, []*store.Record{op.Record}); err != nil {
		return err
	}

	clone := op.Record.Clone()
	clone.Synced = true
	if err := e.store.Put(ctx, op.Collection, clone); err != nil {
		// the remote has the record; log and drop the operation rather than
		// replaying a push the server already accepted
		slog.Error("mark replayed record synced failed", "collection", op.Collection, "record", op.Record.ID, "error", err)
	}
	return nil
}
