// Package netstate tracks connectivity to the sync server and raises a
// became-online event so the engine can sync as soon as connectivity resumes.
package netstate

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeTimeout         = 5 * time.Second
	eventBufferSize      = 1
)

// Network is the read surface the engine depends on.
type Network interface {
	Online() bool
}

// Monitor probes a health endpoint on an interval and keeps an online flag.
// Transitions from offline to online are broadcast to subscribers.
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	online    atomic.Bool

	mu   sync.Mutex
	subs []chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor builds a monitor probing the given health URL. The monitor
// starts optimistic: it reports online until the first probe fails, so a
// startup sync is not held back by probe timing.
func NewMonitor(healthURL string, opts ...Option) *Monitor {
	m := &Monitor{
		healthURL: healthURL,
		interval:  defaultProbeInterval,
		client:    &http.Client{Timeout: probeTimeout},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.online.Store(true)
	return m
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnOnline returns a channel that receives a tick on every offline-to-online
// transition.
func (m *Monitor) OnOnline() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, eventBufferSize)
	m.subs = append(m.subs, ch)
	return ch
}

// Start probes until the context is cancelled. A timer rather than a ticker,
// so slow probes do not queue.
func (m *Monitor) Start(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.probe(ctx)
			timer.Reset(m.interval)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		slog.Error("netstate probe request", "error", err)
		return
	}
	res, err := m.client.Do(req)
	online := err == nil && res.StatusCode < 500
	if res != nil {
		res.Body.Close()
	}

	wasOnline := m.online.Swap(online)
	switch {
	case !wasOnline && online:
		slog.Info("network online")
		m.notify()
	case wasOnline && !online:
		slog.Warn("network offline", "error", err)
	}
}

func (m *Monitor) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- struct{}{}:
		default:
			// subscriber still has a pending tick
		}
	}
}

// SetOnline forces the state, for tests and for hosts with their own
// reachability signal.
func (m *Monitor) SetOnline(online bool) {
	wasOnline := m.online.Swap(online)
	if !wasOnline && online {
		m.notify()
	}
}
