package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    synced      INTEGER NOT NULL DEFAULT 0,
    owner       TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL, -- RFC3339
    fields      TEXT NOT NULL, -- JSON payload
    field_times TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_unsynced ON records(collection, synced);

CREATE TABLE IF NOT EXISTS store_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// dbRecord is the scan shape; time and payload are stored as TEXT.
type dbRecord struct {
	Collection string `db:"collection"`
	ID         string `db:"id"`
	Synced     bool   `db:"synced"`
	Owner      string `db:"owner"`
	UpdatedAt  string `db:"updated_at"`
	Fields     string `db:"fields"`
	FieldTimes string `db:"field_times"`
}

// sqliteStore is the primary record engine. All writes go through it unless
// the facade has degraded to the file fallback.
type sqliteStore struct {
	db *sqlx.DB
}

func newSqliteStore(db *sqlx.DB) (*sqliteStore, error) {
	if _, err := db.Exec(recordsSchema); err != nil {
		return nil, fmt.Errorf("initialize records schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	var row dbRecord
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM records WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query record %s/%s: %w", collection, id, err)
	}
	return row.toRecord()
}

func (s *sqliteStore) GetAll(ctx context.Context, collection string) ([]*Record, error) {
	return s.selectRecords(ctx,
		"SELECT * FROM records WHERE collection = ? ORDER BY id", collection)
}

func (s *sqliteStore) GetUnsynced(ctx context.Context, collection string) ([]*Record, error) {
	return s.selectRecords(ctx,
		"SELECT * FROM records WHERE collection = ? AND synced = 0 ORDER BY updated_at, id", collection)
}

func (s *sqliteStore) selectRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	var rows []dbRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

const upsertQuery = `INSERT OR REPLACE INTO records
	(collection, id, synced, owner, updated_at, fields, field_times)
	VALUES (:collection, :id, :synced, :owner, :updated_at, :fields, :field_times)`

func (s *sqliteStore) Put(ctx context.Context, collection string, record *Record) error {
	row, err := toDBRecord(collection, record)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertQuery, row); err != nil {
		return fmt.Errorf("put record %s/%s: %w", collection, record.ID, err)
	}
	return nil
}

// PutBulk writes all records in one transaction: either every record lands or
// none do. This is the primitive the orchestrator uses to commit a whole chunk
// as synced with a single write.
func (s *sqliteStore) PutBulk(ctx context.Context, collection string, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk write: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		row, err := toDBRecord(collection, record)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertQuery, row); err != nil {
			return fmt.Errorf("bulk write %s/%s: %w", collection, record.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk write: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("clear collection %s: %w", collection, err)
	}
	return nil
}

func (s *sqliteStore) CountUnsynced(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM records WHERE collection = ? AND synced = 0", collection)
	if err != nil {
		return 0, fmt.Errorf("count unsynced %s: %w", collection, err)
	}
	return count, nil
}

func (s *sqliteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM store_meta WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query meta %s: %w", key, err)
	}
	return value, nil
}

func (s *sqliteStore) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func toDBRecord(collection string, record *Record) (*dbRecord, error) {
	if record == nil || record.ID == "" {
		return nil, fmt.Errorf("record must have an id")
	}
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields for %s/%s: %w", collection, record.ID, err)
	}
	fieldTimes, err := json.Marshal(record.FieldTimes)
	if err != nil {
		return nil, fmt.Errorf("marshal field times for %s/%s: %w", collection, record.ID, err)
	}
	return &dbRecord{
		Collection: collection,
		ID:         record.ID,
		Synced:     record.Synced,
		Owner:      record.Owner,
		UpdatedAt:  record.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Fields:     string(fields),
		FieldTimes: string(fieldTimes),
	}, nil
}

func (row *dbRecord) toRecord() (*Record, error) {
	updatedAt, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %s/%s: %w", row.Collection, row.ID, err)
	}
	record := &Record{
		ID:        row.ID,
		Synced:    row.Synced,
		Owner:     row.Owner,
		UpdatedAt: updatedAt,
	}
	if err := json.Unmarshal([]byte(row.Fields), &record.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s/%s: %w", row.Collection, row.ID, err)
	}
	if row.FieldTimes != "" && row.FieldTimes != "null" {
		if err := json.Unmarshal([]byte(row.FieldTimes), &record.FieldTimes); err != nil {
			return nil, fmt.Errorf("unmarshal field times for %s/%s: %w", row.Collection, row.ID, err)
		}
	}
	return record, nil
}
