// Package daemon is the composition root: it builds the store, queue,
// conflict registry, backend client, connectivity monitor, engine, and
// control server from one config and runs them as a unit.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/jubeeworld/synckit/internal/backend"
	"github.com/jubeeworld/synckit/internal/config"
	"github.com/jubeeworld/synckit/internal/conflict"
	"github.com/jubeeworld/synckit/internal/control"
	"github.com/jubeeworld/synckit/internal/db"
	"github.com/jubeeworld/synckit/internal/identity"
	"github.com/jubeeworld/synckit/internal/netstate"
	"github.com/jubeeworld/synckit/internal/queue"
	"github.com/jubeeworld/synckit/internal/store"
	"github.com/jubeeworld/synckit/internal/sync"
)

type Daemon struct {
	config  *config.Config
	engine  *sync.Engine
	monitor *netstate.Monitor
	control *control.Server
	close   func() error
}

func New(cfg *config.Config) (*Daemon, error) {
	database, err := db.NewSqliteDB(db.WithPath(cfg.DBPath()))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st, err := store.New(database, cfg.FallbackDir(), "jubee")
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("create store: %w", err)
	}

	rq, err := queue.New(database,
		queue.WithCapacity(cfg.QueueLimit),
		queue.WithMaxAttempts(cfg.MaxAttempts),
	)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("create retry queue: %w", err)
	}

	registry, err := conflict.NewRegistry(database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("create conflict registry: %w", err)
	}

	var clientOpts []backend.HTTPOption
	if cfg.AuthToken != "" {
		clientOpts = append(clientOpts, backend.WithAuthToken(cfg.AuthToken))
	}
	client := backend.NewHTTPClient(cfg.ServerURL, clientOpts...)

	idp := identity.NewStaticProvider(&identity.Identity{
		UserID: cfg.UserID,
		Email:  cfg.Email,
	})

	monitor := netstate.NewMonitor(healthURL(cfg.ServerURL))

	engine := sync.NewEngine(st, rq, registry, client, idp, monitor,
		cfg.Schemas(),
		sync.WithBatchCeiling(cfg.BatchCeiling),
		sync.WithOnlineEvents(monitor.OnOnline()),
	)

	ctrl := control.New(controlAddr(cfg.ControlURL), engine)

	return &Daemon{
		config:  cfg,
		engine:  engine,
		monitor: monitor,
		control: ctrl,
		close:   database.Close,
	}, nil
}

// Start runs until the context is cancelled. The control server, the
// connectivity monitor, and the auto-sync loop stop together; the first hard
// failure takes the rest down.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("synckit daemon start",
		"datadir", d.config.DataDir,
		"server", d.config.ServerURL,
		"user", d.config.UserID,
		"collections", len(d.config.Collections),
	)
	defer d.close()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		d.monitor.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		return d.control.Start(groupCtx)
	})

	d.engine.StartAutoSync(groupCtx, d.config.SyncIntervalDuration())
	defer d.engine.StopAutoSync()

	err := group.Wait()
	slog.Info("synckit daemon stop")
	return err
}

func healthURL(serverURL string) string {
	u, err := url.JoinPath(serverURL, "/health")
	if err != nil {
		return serverURL
	}
	return u
}

// controlAddr strips the scheme so the config can hold a browsable URL while
// the listener wants host:port.
func controlAddr(controlURL string) string {
	u, err := url.Parse(controlURL)
	if err != nil || u.Host == "" {
		return controlURL
	}
	return u.Host
}
