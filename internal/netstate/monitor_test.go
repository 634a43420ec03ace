package netstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_StartsOptimistic(t *testing.T) {
	m := NewMonitor("http://localhost:1")
	assert.True(t, m.Online())
}

func TestMonitor_ProbeTransitions(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := NewMonitor(server.URL)
	events := m.OnOnline()

	m.probe(context.Background())
	assert.False(t, m.Online())

	healthy.Store(true)
	m.probe(context.Background())
	assert.True(t, m.Online())

	select {
	case <-events:
	default:
		t.Fatal("expected a became-online event")
	}
}

func TestMonitor_TransportFailureIsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	m := NewMonitor(server.URL)
	m.probe(context.Background())
	assert.False(t, m.Online())
}

func TestMonitor_SetOnlineNotifiesOnce(t *testing.T) {
	m := NewMonitor("http://localhost:1")
	events := m.OnOnline()

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true) // no transition, no extra event

	require.Len(t, events, 1)
}
