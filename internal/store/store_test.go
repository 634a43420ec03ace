package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jubeeworld/synckit/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "synckit.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s, err := New(database, t.TempDir(), "jubee")
	require.NoError(t, err)
	return s
}

func testRecord(id string, synced bool, fields map[string]any) *Record {
	return &Record{
		ID:        id,
		Synced:    synced,
		UpdatedAt: time.Now().UTC(),
		Fields:    fields,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("a", false, map[string]any{"title": "X", "score": 10})
	require.NoError(t, s.Put(ctx, "progress", rec))

	got, err := s.Get(ctx, "progress", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.False(t, got.Synced)
	assert.Equal(t, "X", got.Fields["title"])
	// JSON round trip turns ints into float64
	assert.Equal(t, float64(10), got.Fields["score"])
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get(context.Background(), "progress", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_PutBulk_AllRetrievable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*Record{
		testRecord("a", true, map[string]any{"v": 1}),
		testRecord("b", true, map[string]any{"v": 2}),
		testRecord("c", true, map[string]any{"v": 3}),
	}
	require.NoError(t, s.PutBulk(ctx, "drawings", records))

	all, err := s.GetAll(ctx, "drawings")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_PutBulk_FailureLeavesOthersUncorrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "drawings", testRecord("keep", true, map[string]any{"v": 0})))

	// A record without an id fails the bulk write; the transaction must roll
	// back without touching the pre-existing record.
	records := []*Record{
		testRecord("a", true, map[string]any{"v": 1}),
		{UpdatedAt: time.Now()},
	}
	err := s.PutBulk(ctx, "drawings", records)
	require.Error(t, err)

	all, err := s.GetAll(ctx, "drawings")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].ID)
}

func TestStore_GetUnsynced_FiltersSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, "progress", []*Record{
		testRecord("a", true, map[string]any{"v": 1}),
		testRecord("b", false, map[string]any{"v": 2}),
		testRecord("c", false, map[string]any{"v": 3}),
	}))

	unsynced, err := s.GetUnsynced(ctx, "progress")
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	for _, rec := range unsynced {
		assert.False(t, rec.Synced)
	}

	count, err := s.CountUnsynced(ctx, "progress")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "progress", testRecord("a", false, nil)))
	require.NoError(t, s.Put(ctx, "progress", testRecord("b", false, nil)))

	require.NoError(t, s.Delete(ctx, "progress", "a"))
	got, err := s.Get(ctx, "progress", "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Clear(ctx, "progress"))
	all, err := s.GetAll(ctx, "progress")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_CollectionsArePartitioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "progress", testRecord("a", false, map[string]any{"v": 1})))
	require.NoError(t, s.Put(ctx, "drawings", testRecord("a", false, map[string]any{"v": 2})))

	progress, err := s.Get(ctx, "progress", "a")
	require.NoError(t, err)
	drawings, err := s.Get(ctx, "drawings", "a")
	require.NoError(t, err)

	assert.Equal(t, float64(1), progress.Fields["v"])
	assert.Equal(t, float64(2), drawings.Fields["v"])
}

func TestStore_Meta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	value, err := s.GetMeta(ctx, "cursor:progress")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, s.SetMeta(ctx, "cursor:progress", "2026-01-02T00:00:00Z"))
	value, err = s.GetMeta(ctx, "cursor:progress")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T00:00:00Z", value)
}

func TestStore_DegradesToFallbackWhenPrimaryDown(t *testing.T) {
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "synckit.db")))
	require.NoError(t, err)

	s, err := New(database, t.TempDir(), "jubee")
	require.NoError(t, err)

	// Closing the handle makes every primary operation fail.
	require.NoError(t, database.Close())
	ctx := context.Background()

	rec := testRecord("a", false, map[string]any{"title": "offline"})
	require.NoError(t, s.Put(ctx, "progress", rec))
	assert.True(t, s.Degraded())

	got, err := s.Get(ctx, "progress", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "offline", got.Fields["title"])

	// Reads of untouched collections come back empty, not as errors.
	all, err := s.GetAll(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFieldsEqual_NormalizesJSONTypes(t *testing.T) {
	assert.True(t, FieldsEqual(10, float64(10)))
	assert.True(t, FieldsEqual(map[string]any{"a": 1}, map[string]any{"a": float64(1)}))
	assert.True(t, FieldsEqual([]int{1, 2}, []any{float64(1), float64(2)}))
	assert.False(t, FieldsEqual("x", "y"))
	assert.True(t, FieldsEqual(nil, nil))
}

func TestRecord_FieldTimeFallsBackToUpdatedAt(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fieldTime := updated.Add(time.Hour)
	rec := &Record{
		ID:         "a",
		UpdatedAt:  updated,
		FieldTimes: map[string]time.Time{"title": fieldTime},
	}
	assert.Equal(t, fieldTime, rec.FieldTime("title"))
	assert.Equal(t, updated, rec.FieldTime("score"))
}
