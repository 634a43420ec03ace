package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jubeeworld/synckit/internal/backend"
	"github.com/jubeeworld/synckit/internal/identity"
	"github.com/jubeeworld/synckit/internal/queue"
	"github.com/jubeeworld/synckit/internal/store"
)

// pushCollection sends every unsynced record for one collection in
// ceiling-sized chunks. A transient failure queues the whole chunk for later
// replay; a data-level failure retries the chunk record by record so one bad
// record cannot hold its neighbors hostage.
func (e *Engine) pushCollection(ctx context.Context, user *identity.Identity, schema *store.Schema, result *Result) {
	unsynced, err := e.store.GetUnsynced(ctx, schema.Name)
	if err != nil {
		result.addError(fmt.Errorf("load unsynced records: %w", err))
		return
	}
	if len(unsynced) == 0 {
		return
	}

	for _, record := range unsynced {
		if record.Owner == "" {
			record.Owner = user.UserID
		}
	}

	for _, chunk := range chunkRecords(unsynced, e.batchCeiling) {
		if err := ctx.Err(); err != nil {
			result.addError(err)
			return
		}
		e.pushChunk(ctx, schema, chunk, result)
	}
}

func (e *Engine) pushChunk(ctx context.Context, schema *store.Schema, chunk []*store.Record, result *Result) {
	err := e.backend.Push(ctx, schema.Name, chunk)
	if err == nil {
		e.commitSynced(ctx, schema.Name, chunk, result)
		return
	}

	switch {
	case backend.IsTransient(err):
		slog.Debug("push chunk deferred", "collection", schema.Name, "records", len(chunk), "error", err)
		e.queueRecords(ctx, schema, chunk, err, result)
	case backend.IsDataLevel(err):
		slog.Debug("push chunk rejected, retrying per record", "collection", schema.Name, "error", err)
		e.pushPerRecord(ctx, schema, chunk, result)
	default:
		result.Failed += len(chunk)
		result.addError(fmt.Errorf("push %s chunk: %w", schema.Name, err))
	}
}

// pushPerRecord is the data-level fallback: each record gets its own push so
// the valid ones still land. Rejected records go to the retry queue rather
// than being discarded.
func (e *Engine) pushPerRecord(ctx context.Context, schema *store.Schema, chunk []*store.Record, result *Result) {
	for _, record := range chunk {
		if err := ctx.Err(); err != nil {
			result.addError(err)
			return
		}
		err := e.backend.Push(ctx, schema.Name, []*store.Record{record})
		if err == nil {
			e.commitSynced(ctx, schema.Name, []*store.Record{record}, result)
			continue
		}
		slog.Warn("push record failed", "collection", schema.Name, "record", record.ID, "error", err)
		e.queueRecords(ctx, schema, []*store.Record{record}, err, result)
	}
}

// commitSynced marks pushed records synced in one transaction.
func (e *Engine) commitSynced(ctx context.Context, collection string, records []*store.Record, result *Result) {
	synced := make([]*store.Record, len(records))
	for i, record := range records {
		clone := record.Clone()
		clone.Synced = true
		synced[i] = clone
	}
	if err := e.store.PutBulk(ctx, collection, synced); err != nil {
		result.Failed += len(records)
		result.addError(fmt.Errorf("mark %d records synced: %w", len(records), err))
		return
	}
	result.Synced += len(records)
}

func (e *Engine) queueRecords(ctx context.Context, schema *store.Schema, records []*store.Record, cause error, result *Result) {
	for _, record := range records {
		op := &queue.Operation{
			Collection: schema.Name,
			Kind:       queue.KindPush,
			Record:     record,
			Priority:   schema.Priority,
			LastError:  cause.Error(),
		}
		if err := e.queue.Add(ctx, op); err != nil {
			result.Failed++
			result.addError(fmt.Errorf("queue record %s: %w", record.ID, err))
			continue
		}
		result.Queued++
	}
}
