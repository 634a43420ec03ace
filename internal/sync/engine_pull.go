package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jubeeworld/synckit/internal/backend"
	"github.com/jubeeworld/synckit/internal/conflict"
	"github.com/jubeeworld/synckit/internal/identity"
	"github.com/jubeeworld/synckit/internal/store"
)

const pullCursorKeyFmt = "pull_cursor:%s"

// pullCollection fetches the owner's remote records and reconciles them into
// the local store. A remote record never overwrites local unsynced work: that
// pair goes to the conflict registry for an explicit decision instead.
func (e *Engine) pullCollection(ctx context.Context, user *identity.Identity, schema *store.Schema, result *Result) {
	query := backend.PullQuery{Owner: user.UserID}
	if schema.Incremental {
		query.UpdatedSince = e.pullCursor(ctx, schema.Name)
	}

	remotes, err := e.backend.Pull(ctx, schema.Name, query)
	if err != nil {
		result.addError(fmt.Errorf("pull %s: %w", schema.Name, err))
		return
	}
	if len(remotes) == 0 {
		return
	}

	now := e.now()
	var latest time.Time
	upserts := make([]*store.Record, 0, len(remotes))
	for _, remote := range remotes {
		if remote.UpdatedAt.After(latest) {
			latest = remote.UpdatedAt
		}

		local, err := e.store.Get(ctx, schema.Name, remote.ID)
		if err != nil {
			result.addError(fmt.Errorf("read local %s/%s: %w", schema.Name, remote.ID, err))
			continue
		}

		if local != nil && !local.Synced {
			group := conflict.Detect(schema, local, remote, now)
			if group != nil {
				if err := e.conflicts.Add(ctx, group); err != nil {
					result.addError(fmt.Errorf("register conflict for %s/%s: %w", schema.Name, remote.ID, err))
					continue
				}
				result.Conflicts++
				continue
			}
			// same payload on both sides, safe to adopt the remote copy
		}

		clone := remote.Clone()
		clone.Synced = true
		upserts = append(upserts, clone)
	}

	if len(upserts) > 0 {
		if err := e.store.PutBulk(ctx, schema.Name, upserts); err != nil {
			result.addError(fmt.Errorf("store pulled records: %w", err))
			return
		}
		result.Pulled += len(upserts)
	}

	if schema.Incremental && !latest.IsZero() {
		e.setPullCursor(ctx, schema.Name, latest)
	}
}

func (e *Engine) pullCursor(ctx context.Context, collection string) time.Time {
	value, err := e.store.GetMeta(ctx, fmt.Sprintf(pullCursorKeyFmt, collection))
	if err != nil || value == "" {
		return time.Time{}
	}
	cursor, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("invalid pull cursor, doing full pull", "collection", collection, "value", value)
		return time.Time{}
	}
	return cursor
}

func (e *Engine) setPullCursor(ctx context.Context, collection string, cursor time.Time) {
	key := fmt.Sprintf(pullCursorKeyFmt, collection)
	if err := e.store.SetMeta(ctx, key, cursor.UTC().Format(time.RFC3339Nano)); err != nil {
		slog.Warn("advance pull cursor failed", "collection", collection, "error", err)
	}
}
