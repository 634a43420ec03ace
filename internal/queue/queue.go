package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jubeeworld/synckit/internal/store"
)

const (
	DefaultCapacity    = 500
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Second
	// Backoff plateau. Delays grow exponentially up to this bound.
	maxRetryDelay = time.Hour
	// Operations processed between context checks, so a large backlog cannot
	// hold the caller beyond one chunk.
	processChunkSize = 10
)

var (
	// ErrQueueFull is returned by Add once the capacity ceiling is reached.
	ErrQueueFull = errors.New("queue: capacity reached")
)

// Kind names the remote operation an entry will replay.
type Kind string

const (
	KindPush Kind = "push"
)

// Operation is one durable retry unit: a record push that failed to reach the
// remote and waits for its backoff window.
type Operation struct {
	ID          string
	Collection  string
	Kind        Kind
	Record      *store.Record
	Priority    int
	Attempts    int
	LastAttempt time.Time
	LastError   string
	CreatedAt   time.Time
}

// Processor replays one queued operation. A nil return removes the operation
// from the queue.
type Processor func(ctx context.Context, op *Operation) error

// Report summarizes one processing run.
type Report struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
	Dropped   int `json:"dropped"`
}

// Stats is the durable queue state exposed for status surfaces.
type Stats struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"deadLetters"`
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS retry_queue (
    id           TEXT PRIMARY KEY,
    collection   TEXT NOT NULL,
    kind         TEXT NOT NULL,
    payload      TEXT NOT NULL,
    priority     INTEGER NOT NULL DEFAULT 0,
    attempts     INTEGER NOT NULL DEFAULT 0,
    last_attempt TEXT NOT NULL,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retry_queue_order ON retry_queue(priority DESC, created_at);

CREATE TABLE IF NOT EXISTS dead_letters (
    id           TEXT PRIMARY KEY,
    collection   TEXT NOT NULL,
    kind         TEXT NOT NULL,
    payload      TEXT NOT NULL,
    priority     INTEGER NOT NULL DEFAULT 0,
    attempts     INTEGER NOT NULL,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    dropped_at   TEXT NOT NULL
);
`

type dbOperation struct {
	ID          string `db:"id"`
	Collection  string `db:"collection"`
	Kind        string `db:"kind"`
	Payload     string `db:"payload"`
	Priority    int    `db:"priority"`
	Attempts    int    `db:"attempts"`
	LastAttempt string `db:"last_attempt"`
	LastError   string `db:"last_error"`
	CreatedAt   string `db:"created_at"`
}

// RetryQueue is a durable, priority-ordered list of failed remote operations.
// Every structural mutation is written through to SQLite immediately, so the
// full queue survives restarts. Only one Process run is active at a time.
type RetryQueue struct {
	db          *sqlx.DB
	now         func() time.Time
	capacity    int
	maxAttempts int
	baseDelay   time.Duration
	busy        sync.Mutex
}

// Option configures a RetryQueue.
type Option func(*RetryQueue)

// WithCapacity sets the maximum number of pending operations.
func WithCapacity(n int) Option {
	return func(q *RetryQueue) { q.capacity = n }
}

// WithMaxAttempts sets the attempt ceiling before an operation is dropped to
// the dead-letter store.
func WithMaxAttempts(n int) Option {
	return func(q *RetryQueue) { q.maxAttempts = n }
}

// WithBaseDelay sets the base retry delay; attempt n waits baseDelay*2^n.
func WithBaseDelay(d time.Duration) Option {
	return func(q *RetryQueue) { q.baseDelay = d }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *RetryQueue) { q.now = now }
}

// New creates a RetryQueue over an open sqlx handle.
func New(db *sqlx.DB, opts ...Option) (*RetryQueue, error) {
	q := &RetryQueue{
		db:          db,
		now:         time.Now,
		capacity:    DefaultCapacity,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("initialize queue schema: %w", err)
	}
	return q, nil
}

// Add appends an operation, failing with ErrQueueFull at the capacity ceiling
// instead of growing without bound. The enqueue time counts as the first
// attempt, so the operation waits a full backoff window before replay.
func (q *RetryQueue) Add(ctx context.Context, op *Operation) error {
	pending, err := q.pendingCount(ctx)
	if err != nil {
		return err
	}
	if pending >= q.capacity {
		return fmt.Errorf("%w (%d operations pending)", ErrQueueFull, pending)
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := q.now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	if op.LastAttempt.IsZero() {
		op.LastAttempt = now
	}
	if op.Kind == "" {
		op.Kind = KindPush
	}

	row, err := toDBOperation(op)
	if err != nil {
		return err
	}
	_, err = q.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO retry_queue
		(id, collection, kind, payload, priority, attempts, last_attempt, last_error, created_at)
		VALUES (:id, :collection, :kind, :payload, :priority, :attempts, :last_attempt, :last_error, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("enqueue operation %s: %w", op.ID, err)
	}
	return nil
}

// Process replays due operations in priority order (ties broken by earlier
// creation). Operations still inside their backoff window are skipped. A
// concurrent call is a no-op reporting zero processed.
func (q *RetryQueue) Process(ctx context.Context, processor Processor) (*Report, error) {
	if !q.busy.TryLock() {
		slog.Debug("queue process already running")
		return &Report{}, nil
	}
	defer q.busy.Unlock()

	ops, err := q.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for i, op := range ops {
		// yield between chunks
		if i > 0 && i%processChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				report.Remaining += len(ops) - i
				return report, err
			}
		}

		now := q.now()
		if now.Sub(op.LastAttempt) < q.RetryDelay(op.Attempts) {
			report.Remaining++
			continue
		}

		if err := processor(ctx, op); err != nil {
			op.Attempts++
			op.LastError = err.Error()
			op.LastAttempt = now
			if op.Attempts >= q.maxAttempts {
				if dropErr := q.dropToDeadLetters(ctx, op); dropErr != nil {
					slog.Error("queue drop failed", "op", op.ID, "error", dropErr)
					report.Remaining++
					continue
				}
				slog.Warn("queue dropped operation after max attempts, potential data loss",
					"op", op.ID, "collection", op.Collection, "record", op.Record.ID,
					"attempts", op.Attempts, "lastError", op.LastError)
				report.Dropped++
				continue
			}
			if updateErr := q.update(ctx, op); updateErr != nil {
				slog.Error("queue update failed", "op", op.ID, "error", updateErr)
			}
			report.Failed++
			report.Remaining++
			continue
		}

		if err := q.remove(ctx, op.ID); err != nil {
			slog.Error("queue remove failed", "op", op.ID, "error", err)
		}
		report.Processed++
	}

	return report, nil
}

// RetryDelay computes the backoff window for the given attempt count:
// baseDelay*2^attempts, capped at the plateau.
func (q *RetryQueue) RetryDelay(attempts int) time.Duration {
	delay := q.baseDelay
	for range attempts {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// Pending returns all queued operations in processing order.
func (q *RetryQueue) Pending(ctx context.Context) ([]*Operation, error) {
	return q.loadAll(ctx)
}

// DeadLetters returns operations dropped after exhausting their attempts.
func (q *RetryQueue) DeadLetters(ctx context.Context) ([]*Operation, error) {
	var rows []dbOperation
	err := q.db.SelectContext(ctx, &rows,
		"SELECT id, collection, kind, payload, priority, attempts, '' AS last_attempt, last_error, created_at FROM dead_letters ORDER BY dropped_at")
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	return toOperations(rows)
}

// Stats reports pending and dead-letter counts.
func (q *RetryQueue) Stats(ctx context.Context) (*Stats, error) {
	pending, err := q.pendingCount(ctx)
	if err != nil {
		return nil, err
	}
	var dead int
	if err := q.db.GetContext(ctx, &dead, "SELECT COUNT(*) FROM dead_letters"); err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	return &Stats{Pending: pending, DeadLetters: dead}, nil
}

func (q *RetryQueue) pendingCount(ctx context.Context) (int, error) {
	var count int
	if err := q.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM retry_queue"); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

func (q *RetryQueue) loadAll(ctx context.Context) ([]*Operation, error) {
	var rows []dbOperation
	err := q.db.SelectContext(ctx, &rows,
		"SELECT * FROM retry_queue ORDER BY priority DESC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	return toOperations(rows)
}

func (q *RetryQueue) update(ctx context.Context, op *Operation) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE retry_queue SET attempts = ?, last_attempt = ?, last_error = ? WHERE id = ?",
		op.Attempts, op.LastAttempt.UTC().Format(time.RFC3339Nano), op.LastError, op.ID)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	return nil
}

func (q *RetryQueue) remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM retry_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove operation %s: %w", id, err)
	}
	return nil
}

func (q *RetryQueue) dropToDeadLetters(ctx context.Context, op *Operation) error {
	row, err := toDBOperation(op)
	if err != nil {
		return err
	}
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO dead_letters
		(id, collection, kind, payload, priority, attempts, last_error, created_at, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Collection, row.Kind, row.Payload, row.Priority, row.Attempts,
		row.LastError, row.CreatedAt, q.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", op.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM retry_queue WHERE id = ?", op.ID); err != nil {
		return fmt.Errorf("remove dropped operation %s: %w", op.ID, err)
	}
	return tx.Commit()
}

func toDBOperation(op *Operation) (*dbOperation, error) {
	payload, err := json.Marshal(op.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", op.ID, err)
	}
	return &dbOperation{
		ID:          op.ID,
		Collection:  op.Collection,
		Kind:        string(op.Kind),
		Payload:     string(payload),
		Priority:    op.Priority,
		Attempts:    op.Attempts,
		LastAttempt: op.LastAttempt.UTC().Format(time.RFC3339Nano),
		LastError:   op.LastError,
		CreatedAt:   op.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func toOperations(rows []dbOperation) ([]*Operation, error) {
	ops := make([]*Operation, 0, len(rows))
	for _, row := range rows {
		op := &Operation{
			ID:         row.ID,
			Collection: row.Collection,
			Kind:       Kind(row.Kind),
			Priority:   row.Priority,
			Attempts:   row.Attempts,
			LastError:  row.LastError,
		}
		if err := json.Unmarshal([]byte(row.Payload), &op.Record); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", row.ID, err)
		}
		if row.LastAttempt != "" {
			t, err := time.Parse(time.RFC3339Nano, row.LastAttempt)
			if err != nil {
				return nil, fmt.Errorf("parse last_attempt for %s: %w", row.ID, err)
			}
			op.LastAttempt = t
		}
		t, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", row.ID, err)
		}
		op.CreatedAt = t
		ops = append(ops, op)
	}
	return ops, nil
}
