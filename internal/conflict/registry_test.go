package conflict

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jubeeworld/synckit/internal/db"
	"github.com/jubeeworld/synckit/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "conflicts.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry, err := NewRegistry(database)
	require.NoError(t, err)
	return registry
}

func testGroup(t *testing.T, collection, recordID, localTitle string) *Group {
	t.Helper()
	now := time.Now()
	local := &store.Record{ID: recordID, UpdatedAt: now, Fields: map[string]any{"title": localTitle}}
	remote := &store.Record{ID: recordID, UpdatedAt: now.Add(-time.Minute), Fields: map[string]any{"title": "remote"}}
	group := Detect(&store.Schema{Name: collection}, local, remote, now)
	require.NotNil(t, group)
	return group
}

func TestRegistry_AddGetRemove(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	group := testGroup(t, "progress", "a", "mine")
	require.NoError(t, registry.Add(ctx, group))

	got, err := registry.Get(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, group.RecordID, got.RecordID)
	assert.Equal(t, "mine", got.Local.Fields["title"])

	require.NoError(t, registry.Remove(ctx, group.ID))
	_, err = registry.Get(ctx, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, registry.Remove(ctx, group.ID), ErrNotFound)
}

func TestRegistry_RedetectionReplacesGroup(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	first := testGroup(t, "progress", "a", "v1")
	require.NoError(t, registry.Add(ctx, first))
	second := testGroup(t, "progress", "a", "v2")
	require.NoError(t, registry.Add(ctx, second))

	groups, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, second.ID, groups[0].ID)
	assert.Equal(t, "v2", groups[0].Local.Fields["title"])
}

func TestRegistry_ListByCollection(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Add(ctx, testGroup(t, "progress", "a", "x")))
	require.NoError(t, registry.Add(ctx, testGroup(t, "progress", "b", "y")))
	require.NoError(t, registry.Add(ctx, testGroup(t, "drawings", "a", "z")))

	progress, err := registry.ListByCollection(ctx, "progress")
	require.NoError(t, err)
	assert.Len(t, progress, 2)

	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRegistry_ResolveRemovesGroupAndReturnsRecord(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	group := testGroup(t, "progress", "a", "mine")
	require.NoError(t, registry.Add(ctx, group))

	resolution, err := registry.Resolve(ctx, group.ID, ChoiceLocal)
	require.NoError(t, err)
	assert.Equal(t, "progress", resolution.Collection)
	assert.Equal(t, "a", resolution.RecordID)
	assert.True(t, resolution.Record.Synced)
	assert.Equal(t, "mine", resolution.Record.Fields["title"])

	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegistry_ResolveRejectsUnknownChoice(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	group := testGroup(t, "progress", "a", "mine")
	require.NoError(t, registry.Add(ctx, group))

	_, err := registry.Resolve(ctx, group.ID, Choice("bogus"))
	require.Error(t, err)

	// group must survive a failed resolution
	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegistry_ResolveAllHandlesLargeBacklog(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	// more than one chunk
	for i := range 25 {
		group := testGroup(t, "progress", fmt.Sprintf("rec-%02d", i), "mine")
		require.NoError(t, registry.Add(ctx, group))
	}

	resolutions, err := registry.ResolveAll(ctx, ChoiceServer)
	require.NoError(t, err)
	assert.Len(t, resolutions, 25)
	for _, resolution := range resolutions {
		assert.True(t, resolution.Record.Synced)
		assert.Equal(t, "remote", resolution.Record.Fields["title"])
	}

	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegistry_ResolveBatchSkipsMissingIDs(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	group := testGroup(t, "progress", "a", "mine")
	require.NoError(t, registry.Add(ctx, group))

	resolutions, err := registry.ResolveBatch(ctx, []string{"missing", group.ID}, ChoiceLocal)
	require.NoError(t, err)
	assert.Len(t, resolutions, 1)
}

func TestRegistry_Diagnose(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	group := testGroup(t, "progress", "a", "mine") // local newer than remote
	require.NoError(t, registry.Add(ctx, group))

	choice, err := registry.Diagnose(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceLocal, choice)

	// diagnosis is a recommendation: the group must still be pending
	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
