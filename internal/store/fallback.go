package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jubeeworld/synckit/internal/utils"
)

// fileStore is the degraded secondary engine. One JSON file per
// "<db>_<collection>", one full-map rewrite per mutation. It preserves the
// read/write contract but not cross-record transactionality, and reads return
// an empty set rather than an error when the file is missing or unreadable.
type fileStore struct {
	dir    string
	dbName string
	mu     sync.Mutex
}

func newFileStore(dir, dbName string) *fileStore {
	return &fileStore{dir: dir, dbName: dbName}
}

func (f *fileStore) path(collection string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", f.dbName, collection))
}

// load reads the collection map. Missing or corrupt files read as empty.
func (f *fileStore) load(collection string) map[string]*Record {
	data, err := os.ReadFile(f.path(collection))
	if err != nil {
		return map[string]*Record{}
	}
	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil || records == nil {
		return map[string]*Record{}
	}
	return records
}

func (f *fileStore) save(collection string, records map[string]*Record) error {
	if err := utils.EnsureDir(f.dir); err != nil {
		return fmt.Errorf("ensure fallback dir: %w", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal fallback collection %s: %w", collection, err)
	}
	return os.WriteFile(f.path(collection), data, 0o644)
}

func (f *fileStore) Get(collection, id string) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(collection)[id]
}

func (f *fileStore) GetAll(collection string) []*Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.load(collection)
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	return out
}

func (f *fileStore) GetUnsynced(collection string) []*Record {
	out := make([]*Record, 0)
	for _, rec := range f.GetAll(collection) {
		if !rec.Synced {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fileStore) Put(collection string, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.load(collection)
	records[record.ID] = record
	return f.save(collection, records)
}

// PutBulk writes records one at a time. The fallback engine has no
// transactions, so a mid-sequence failure leaves earlier records written.
func (f *fileStore) PutBulk(collection string, records []*Record) error {
	for _, record := range records {
		if err := f.Put(collection, record); err != nil {
			return err
		}
	}
	return nil
}

func (f *fileStore) Delete(collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.load(collection)
	delete(records, id)
	return f.save(collection, records)
}

func (f *fileStore) Clear(collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(collection))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear fallback collection %s: %w", collection, err)
	}
	return nil
}
