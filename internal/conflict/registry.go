package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jubeeworld/synckit/internal/store"
)

// Groups resolved per chunk before yielding, so a large backlog cannot hold
// the caller for the whole run.
const resolveChunkSize = 10

// ErrNotFound is returned when a conflict id has no group (already resolved
// or removed).
var ErrNotFound = errors.New("conflict: group not found")

const registrySchema = `
CREATE TABLE IF NOT EXISTS conflicts (
    id          TEXT PRIMARY KEY,
    collection  TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    payload     TEXT NOT NULL,
    detected_at TEXT NOT NULL,
    UNIQUE(collection, record_id)
);
`

type dbGroup struct {
	ID         string `db:"id"`
	Collection string `db:"collection"`
	RecordID   string `db:"record_id"`
	Payload    string `db:"payload"`
	DetectedAt string `db:"detected_at"`
}

// Registry persists conflict groups so pending decisions survive restarts.
// One group per (collection, record): re-detecting a divergence replaces the
// stale group instead of duplicating it.
type Registry struct {
	db *sqlx.DB
}

// NewRegistry creates a Registry over an open sqlx handle.
func NewRegistry(db *sqlx.DB) (*Registry, error) {
	if _, err := db.Exec(registrySchema); err != nil {
		return nil, fmt.Errorf("initialize conflicts schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Add stores a group, replacing any existing group for the same record.
func (r *Registry) Add(ctx context.Context, group *Group) error {
	payload, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("marshal conflict group %s: %w", group.ID, err)
	}
	// delete-then-insert inside one tx keeps both unique constraints clean
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conflict add: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM conflicts WHERE collection = ? AND record_id = ?",
		group.Collection, group.RecordID); err != nil {
		return fmt.Errorf("replace conflict for %s/%s: %w", group.Collection, group.RecordID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conflicts (id, collection, record_id, payload, detected_at) VALUES (?, ?, ?, ?, ?)",
		group.ID, group.Collection, group.RecordID, string(payload),
		group.DetectedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert conflict %s: %w", group.ID, err)
	}
	return tx.Commit()
}

// Get returns one group by id.
func (r *Registry) Get(ctx context.Context, id string) (*Group, error) {
	var row dbGroup
	err := r.db.GetContext(ctx, &row, "SELECT * FROM conflicts WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conflict %s: %w", id, err)
	}
	return row.toGroup()
}

// List returns all pending groups, oldest first.
func (r *Registry) List(ctx context.Context) ([]*Group, error) {
	return r.selectGroups(ctx, "SELECT * FROM conflicts ORDER BY detected_at, id")
}

// ListByCollection returns pending groups for one collection.
func (r *Registry) ListByCollection(ctx context.Context, collection string) ([]*Group, error) {
	return r.selectGroups(ctx,
		"SELECT * FROM conflicts WHERE collection = ? ORDER BY detected_at, id", collection)
}

// Remove deletes a group without resolving it.
func (r *Registry) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM conflicts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove conflict %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of pending groups.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM conflicts"); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return count, nil
}

// Resolution pairs a resolved record with the collection it belongs to, for
// the caller to persist.
type Resolution struct {
	Collection string        `json:"collection"`
	RecordID   string        `json:"recordId"`
	Record     *store.Record `json:"record"`
}

// Resolve applies a strategy to one group, removes it, and returns the record
// to persist.
func (r *Registry) Resolve(ctx context.Context, id string, choice Choice) (*Resolution, error) {
	group, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resolved := group.Resolve(choice)
	if resolved == nil {
		return nil, fmt.Errorf("conflict: unknown resolution choice %q", choice)
	}
	if err := r.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &Resolution{Collection: group.Collection, RecordID: group.RecordID, Record: resolved}, nil
}

// ResolveBatch resolves the given groups in bounded chunks, yielding to the
// context between chunks. Missing ids are skipped; resolution already removed
// them.
func (r *Registry) ResolveBatch(ctx context.Context, ids []string, choice Choice) ([]*Resolution, error) {
	resolutions := make([]*Resolution, 0, len(ids))
	for i, id := range ids {
		if i > 0 && i%resolveChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return resolutions, err
			}
		}
		resolution, err := r.Resolve(ctx, id, choice)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return resolutions, err
		}
		resolutions = append(resolutions, resolution)
	}
	return resolutions, nil
}

// ResolveAll resolves every pending group with one strategy.
func (r *Registry) ResolveAll(ctx context.Context, choice Choice) ([]*Resolution, error) {
	groups, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(groups))
	for i, group := range groups {
		ids[i] = group.ID
	}
	return r.ResolveBatch(ctx, ids, choice)
}

// ResolveByCollection resolves every pending group in one collection.
func (r *Registry) ResolveByCollection(ctx context.Context, collection string, choice Choice) ([]*Resolution, error) {
	groups, err := r.ListByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(groups))
	for i, group := range groups {
		ids[i] = group.ID
	}
	return r.ResolveBatch(ctx, ids, choice)
}

// Diagnose returns the recommended strategy for one pending group.
func (r *Registry) Diagnose(ctx context.Context, id string) (Choice, error) {
	group, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return group.Diagnose(), nil
}

func (r *Registry) selectGroups(ctx context.Context, query string, args ...any) ([]*Group, error) {
	var rows []dbGroup
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	groups := make([]*Group, 0, len(rows))
	for _, row := range rows {
		group, err := row.toGroup()
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (row *dbGroup) toGroup() (*Group, error) {
	var group Group
	if err := json.Unmarshal([]byte(row.Payload), &group); err != nil {
		return nil, fmt.Errorf("unmarshal conflict %s: %w", row.ID, err)
	}
	return &group, nil
}
