package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultAutoSyncInterval paces background passes when the host does not
// choose its own.
const DefaultAutoSyncInterval = 30 * time.Second

// StartAutoSync launches the background loop: a sync pass plus queue drain on
// every interval, and immediately on a became-online event when one is wired.
// Calling it while a loop is already running is a no-op.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}

	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoStop != nil {
		slog.Debug("auto-sync already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.autoStop = cancel
	e.autoDone = done

	slog.Info("auto-sync started", "interval", interval)
	go e.autoSyncLoop(loopCtx, interval, done)
}

// StopAutoSync stops the background loop and waits for the in-flight pass to
// finish. Safe to call when no loop is running.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	stop, done := e.autoStop, e.autoDone
	e.autoStop, e.autoDone = nil, nil
	e.autoMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	slog.Info("auto-sync stopped")
}

// autoSyncLoop uses a timer and not a ticker, so a slow pass never queues
// further ticks behind itself.
func (e *Engine) autoSyncLoop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.runPass(ctx)
			timer.Reset(interval)
		case <-e.onOnline:
			slog.Info("connectivity restored, syncing")
			e.runPass(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		}
	}
}

func (e *Engine) runPass(ctx context.Context) {
	e.SyncAll(ctx)
	if _, err := e.ProcessQueue(ctx); err != nil {
		slog.Error("queue processing failed", "error", err)
	}
}
