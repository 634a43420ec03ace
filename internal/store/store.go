package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// ErrUnavailable marks a primary-engine failure that triggered (or would
// trigger) degraded fallback operation.
var ErrUnavailable = errors.New("store: primary engine unavailable")

// Store is the durable keyed record store. Operations run against the SQLite
// primary; when the primary fails the call degrades to a per-record JSON file
// fallback rather than surfacing the failure to the caller. The degradation
// is an explicit decision here, not recovered control flow.
type Store struct {
	primary  *sqliteStore
	fallback *fileStore
	degraded atomic.Bool
}

// New builds a Store over an open sqlx handle. fallbackDir/dbName name the
// degraded file store partitions ("<db>_<collection>.json").
func New(db *sqlx.DB, fallbackDir, dbName string) (*Store, error) {
	primary, err := newSqliteStore(db)
	if err != nil {
		return nil, fmt.Errorf("create primary store: %w", err)
	}
	return &Store{
		primary:  primary,
		fallback: newFileStore(fallbackDir, dbName),
	}, nil
}

// Degraded reports whether any operation has fallen back to the secondary
// engine since startup.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// degrade records and logs the primary failure. Context cancellation is the
// caller's signal, never a storage fault.
func (s *Store) degrade(op string, err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if s.degraded.CompareAndSwap(false, true) {
		slog.Error("store degraded to fallback engine", "op", op, "error", err)
	} else {
		slog.Warn("store fallback", "op", op, "error", err)
	}
	return true
}

func (s *Store) Get(ctx context.Context, collection, id string) (*Record, error) {
	record, err := s.primary.Get(ctx, collection, id)
	if err != nil {
		if s.degrade("get", err) {
			return s.fallback.Get(collection, id), nil
		}
		return nil, err
	}
	return record, nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]*Record, error) {
	records, err := s.primary.GetAll(ctx, collection)
	if err != nil {
		if s.degrade("getAll", err) {
			return s.fallback.GetAll(collection), nil
		}
		return nil, err
	}
	return records, nil
}

func (s *Store) GetUnsynced(ctx context.Context, collection string) ([]*Record, error) {
	records, err := s.primary.GetUnsynced(ctx, collection)
	if err != nil {
		if s.degrade("getUnsynced", err) {
			return s.fallback.GetUnsynced(collection), nil
		}
		return nil, err
	}
	return records, nil
}

// unavailable classifies a failure of the fallback engine: at that point both
// engines are down and the caller cannot store at all.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Store) Put(ctx context.Context, collection string, record *Record) error {
	if err := s.primary.Put(ctx, collection, record); err != nil {
		if s.degrade("put", err) {
			return unavailable(s.fallback.Put(collection, record))
		}
		return err
	}
	return nil
}

// PutBulk stores all records in a single transaction on the primary engine.
// On the fallback engine atomicity is lost and records are written one by one.
func (s *Store) PutBulk(ctx context.Context, collection string, records []*Record) error {
	if err := s.primary.PutBulk(ctx, collection, records); err != nil {
		if s.degrade("putBulk", err) {
			return unavailable(s.fallback.PutBulk(collection, records))
		}
		return err
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.primary.Delete(ctx, collection, id); err != nil {
		if s.degrade("delete", err) {
			return unavailable(s.fallback.Delete(collection, id))
		}
		return err
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := s.primary.Clear(ctx, collection); err != nil {
		if s.degrade("clear", err) {
			return unavailable(s.fallback.Clear(collection))
		}
		return err
	}
	return nil
}

func (s *Store) CountUnsynced(ctx context.Context, collection string) (int, error) {
	count, err := s.primary.CountUnsynced(ctx, collection)
	if err != nil {
		if s.degrade("countUnsynced", err) {
			return len(s.fallback.GetUnsynced(collection)), nil
		}
		return 0, err
	}
	return count, nil
}

// GetMeta reads a store-level key (pull cursors and similar bookkeeping).
// Meta has no fallback partition; a degraded store reads empty cursors.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	value, err := s.primary.GetMeta(ctx, key)
	if err != nil {
		if s.degrade("getMeta", err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if err := s.primary.SetMeta(ctx, key, value); err != nil {
		if s.degrade("setMeta", err) {
			return nil
		}
		return err
	}
	return nil
}
