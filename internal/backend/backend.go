// Package backend talks to the remote sync API. The engine only depends on
// the Client interface; the HTTP implementation lives in this package so the
// transient/data-level error taxonomy stays next to the wire code that
// produces it.
package backend

import (
	"context"
	"time"

	"github.com/jubeeworld/synckit/internal/store"
)

// PullQuery scopes a pull to one owner and, optionally, to records updated
// after a cursor. A zero UpdatedSince pulls the full remote set.
type PullQuery struct {
	Owner        string
	UpdatedSince time.Time
}

// Client is the per-collection remote surface. Push is an idempotent
// upsert-by-id: delivering the same records twice must not create remote
// duplicates, which is what makes at-least-once retry safe.
type Client interface {
	Push(ctx context.Context, collection string, records []*store.Record) error
	Pull(ctx context.Context, collection string, query PullQuery) ([]*store.Record, error)
}
