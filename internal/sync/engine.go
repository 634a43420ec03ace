package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jubeeworld/synckit/internal/backend"
	"github.com/jubeeworld/synckit/internal/conflict"
	"github.com/jubeeworld/synckit/internal/identity"
	"github.com/jubeeworld/synckit/internal/netstate"
	"github.com/jubeeworld/synckit/internal/queue"
	"github.com/jubeeworld/synckit/internal/store"
)

// DefaultBatchCeiling caps records per push call. Larger unsynced sets are
// split into ceiling-sized chunks.
const DefaultBatchCeiling = 50

// Engine coordinates local writes, batched pushes, conflict detection, and
// durable retry across all registered collections. One sync pass runs per
// process at a time; overlapping triggers collapse into the in-flight pass.
type Engine struct {
	store       *store.Store
	queue       *queue.RetryQueue
	conflicts   *conflict.Registry
	backend     backend.Client
	identity    identity.Provider
	network     netstate.Network
	collections []*store.Schema

	now          func() time.Time
	batchCeiling int
	onOnline     <-chan struct{}

	muSync  sync.Mutex
	syncing atomic.Bool

	muState     sync.Mutex
	lastSyncAt  time.Time
	lastResults map[string]*Result

	autoMu   sync.Mutex
	autoStop context.CancelFunc
	autoDone chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchCeiling overrides the per-push record cap.
func WithBatchCeiling(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchCeiling = n
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnlineEvents wires the became-online event channel; auto-sync triggers
// a pass on every tick.
func WithOnlineEvents(ch <-chan struct{}) Option {
	return func(e *Engine) { e.onOnline = ch }
}

// NewEngine builds an engine over its collaborators. All dependencies are
// explicit so tests can substitute doubles and hosts can run several engines.
func NewEngine(
	st *store.Store,
	rq *queue.RetryQueue,
	registry *conflict.Registry,
	client backend.Client,
	idp identity.Provider,
	network netstate.Network,
	collections []*store.Schema,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:        st,
		queue:        rq,
		conflicts:    registry,
		backend:      client,
		identity:     idp,
		network:      network,
		collections:  collections,
		now:          time.Now,
		batchCeiling: DefaultBatchCeiling,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncAll runs one full sync pass and returns per-collection results.
// Offline, signed-out, and already-syncing states are silent skips returning
// empty results, not errors. One collection's failure never aborts the others.
func (e *Engine) SyncAll(ctx context.Context) map[string]*Result {
	results := make(map[string]*Result)

	if !e.network.Online() {
		slog.Debug("sync skipped", "reason", "offline")
		return results
	}
	user, ok := e.identity.CurrentUser()
	if !ok {
		slog.Debug("sync skipped", "reason", "no identity")
		return results
	}
	if !e.muSync.TryLock() {
		slog.Debug("sync skipped", "reason", "already syncing")
		return results
	}
	defer e.muSync.Unlock()

	e.syncing.Store(true)
	defer e.syncing.Store(false)

	tStart := e.now()
	for _, schema := range e.collections {
		results[schema.Name] = e.syncCollectionSafe(ctx, user, schema)
	}

	e.muState.Lock()
	e.lastSyncAt = e.now()
	e.lastResults = results
	e.muState.Unlock()

	slog.Info("sync pass complete", "collections", len(results), "took", time.Since(tStart))
	return results
}

// syncCollectionSafe is the outermost per-collection boundary: a genuinely
// unexpected panic is logged and contained in that collection's result
// instead of crashing the host.
func (e *Engine) syncCollectionSafe(ctx context.Context, user *identity.Identity, schema *store.Schema) (result *Result) {
	result = newResult(schema.Name)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync collection panicked", "collection", schema.Name, "panic", r)
			result.addError(fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	e.pushCollection(ctx, user, schema, result)
	e.pullCollection(ctx, user, schema, result)

	if result.Synced > 0 || result.Failed > 0 || result.Queued > 0 || result.Conflicts > 0 || result.Pulled > 0 {
		slog.Info("sync collection",
			"collection", schema.Name,
			"synced", result.Synced,
			"failed", result.Failed,
			"queued", result.Queued,
			"conflicts", result.Conflicts,
			"pulled", result.Pulled,
		)
	}
	return result
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// Status snapshots the engine state for status surfaces.
func (e *Engine) Status(ctx context.Context) *Status {
	_, signedIn := e.identity.CurrentUser()

	status := &Status{
		Syncing:       e.Syncing(),
		Online:        e.network.Online(),
		SignedIn:      signedIn,
		StoreDegraded: e.store.Degraded(),
	}

	e.muState.Lock()
	status.LastSyncAt = e.lastSyncAt
	status.LastResults = e.lastResults
	e.muState.Unlock()

	if count, err := e.conflicts.Count(ctx); err == nil {
		status.PendingConflicts = count
	}
	if stats, err := e.queue.Stats(ctx); err == nil {
		status.Queue = stats
	}
	return status
}

func (e *Engine) schema(collection string) *store.Schema {
	for _, s := range e.collections {
		if s.Name == collection {
			return s
		}
	}
	return nil
}

func chunkRecords(records []*store.Record, size int) [][]*store.Record {
	if size <= 0 || len(records) == 0 {
		return nil
	}
	chunks := make([][]*store.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
