// Package config holds the on-disk client configuration: where local data
// lives, which server to sync against, who the records belong to, and the
// collections the engine manages.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jubeeworld/synckit/internal/store"
	"github.com/jubeeworld/synckit/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".synckit", "config.json")
	DefaultDataDir    = filepath.Join(home, ".synckit", "data")
	DefaultServerURL  = "https://api.jubee.world"
	DefaultControlURL = "http://localhost:7938"
)

const (
	DefaultSyncIntervalSecs = 30
	DefaultBatchCeiling     = 50
	DefaultQueueCapacity    = 500
	DefaultQueueAttempts    = 5
)

// Collection configures one synced record partition.
type Collection struct {
	Name         string   `json:"name"`
	Priority     int      `json:"priority"`
	Incremental  bool     `json:"incremental"`
	IgnoreFields []string `json:"ignore_fields,omitempty"`
}

type Config struct {
	DataDir      string       `json:"data_dir"`
	ServerURL    string       `json:"server_url"`
	ControlURL   string       `json:"control_url"`
	Email        string       `json:"email"`
	UserID       string       `json:"user_id"`
	AuthToken    string       `json:"auth_token,omitempty"`
	SyncInterval int          `json:"sync_interval_secs"`
	BatchCeiling int          `json:"batch_ceiling"`
	QueueLimit   int          `json:"queue_limit"`
	MaxAttempts  int          `json:"max_attempts"`
	Collections  []Collection `json:"collections"`
	Path         string       `json:"-"`
}

// Load reads and validates a config file, filling defaults for anything the
// file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Path = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// 0600: the file may carry an auth token
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ControlURL == "" {
		c.ControlURL = DefaultControlURL
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncIntervalSecs
	}
	if c.BatchCeiling <= 0 {
		c.BatchCeiling = DefaultBatchCeiling
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueCapacity
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultQueueAttempts
	}
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("no collections configured")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection with empty name")
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// SyncIntervalDuration returns the configured interval as a duration.
func (c *Config) SyncIntervalDuration() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// Schemas maps the configured collections to engine schemas.
func (c *Config) Schemas() []*store.Schema {
	schemas := make([]*store.Schema, len(c.Collections))
	for i, col := range c.Collections {
		schemas[i] = &store.Schema{
			Name:         col.Name,
			Priority:     col.Priority,
			Incremental:  col.Incremental,
			IgnoreFields: col.IgnoreFields,
		}
	}
	return schemas
}

// DBPath is the SQLite file backing the store, queue, and conflict registry.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "synckit.db")
}

// FallbackDir is where the degraded file store writes its partitions.
func (c *Config) FallbackDir() string {
	return filepath.Join(c.DataDir, "fallback")
}
