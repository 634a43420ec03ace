package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"email": "kid@jubee.world",
		"user_id": "kid-1",
		"collections": [{"name": "progress", "priority": 5}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultBatchCeiling, cfg.BatchCeiling)
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueLimit)
	assert.Equal(t, 30*time.Second, cfg.SyncIntervalDuration())
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_RejectsEmptyCollections(t *testing.T) {
	path := writeConfig(t, `{"user_id": "kid-1", "collections": []}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no collections")
}

func TestLoad_RejectsDuplicateCollections(t *testing.T) {
	path := writeConfig(t, `{
		"user_id": "kid-1",
		"collections": [{"name": "progress"}, {"name": "progress"}]
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate collection")
}

func TestLoad_RejectsBadServerURL(t *testing.T) {
	path := writeConfig(t, `{
		"server_url": "not a url",
		"collections": [{"name": "progress"}]
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{
		Email:     "kid@jubee.world",
		UserID:    "kid-1",
		AuthToken: "tok",
		Collections: []Collection{
			{Name: "progress", Priority: 5, Incremental: true, IgnoreFields: []string{"lastSeen"}},
		},
	}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kid-1", loaded.UserID)
	assert.Equal(t, "tok", loaded.AuthToken)

	schemas := loaded.Schemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, "progress", schemas[0].Name)
	assert.Equal(t, 5, schemas[0].Priority)
	assert.True(t, schemas[0].Incremental)
	assert.True(t, schemas[0].Ignored("lastSeen"))
}
