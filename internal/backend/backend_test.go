package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jubeeworld/synckit/internal/store"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutErr{}, true},
		{"plain transport error", errors.New("connection refused"), true},
		{"canceled", context.Canceled, false},
		{"api 503", &APIError{Status: http.StatusServiceUnavailable}, true},
		{"api 504", &APIError{Status: http.StatusGatewayTimeout}, true},
		{"api 500", &APIError{Status: http.StatusInternalServerError}, true},
		{"api 429", &APIError{Status: http.StatusTooManyRequests}, true},
		{"api 422", &APIError{Status: http.StatusUnprocessableEntity}, false},
		{"api 409", &APIError{Status: http.StatusConflict}, false},
		{"api 400", &APIError{Status: http.StatusBadRequest}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsDataLevel(t *testing.T) {
	assert.True(t, IsDataLevel(&APIError{Status: http.StatusUnprocessableEntity}))
	assert.True(t, IsDataLevel(&APIError{Status: http.StatusConflict}))
	assert.False(t, IsDataLevel(&APIError{Status: http.StatusServiceUnavailable}))
	assert.False(t, IsDataLevel(&APIError{Status: http.StatusTooManyRequests}))
	assert.False(t, IsDataLevel(errors.New("connection refused")))
	assert.False(t, IsDataLevel(nil))
}

func TestIsDataLevel_WrappedError(t *testing.T) {
	wrapped := &APIError{Status: http.StatusBadRequest, Code: "E_VALIDATION"}
	err := errors.Join(errors.New("push progress"), wrapped)
	assert.True(t, IsDataLevel(err))
	assert.False(t, IsTransient(err))
}

func TestHTTPClient_PushSendsWireRecords(t *testing.T) {
	var gotPath string
	var gotBody pushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithTimeout(5*time.Second))
	records := []*store.Record{
		{ID: "a", Owner: "kid-1", Synced: false, UpdatedAt: time.Now(), Fields: map[string]any{"score": 10}},
	}
	require.NoError(t, client.Push(context.Background(), "progress", records))

	assert.Equal(t, "/api/v1/sync/progress/push", gotPath)
	require.Len(t, gotBody.Records, 1)
	assert.Equal(t, "a", gotBody.Records[0].ID)
	assert.Equal(t, "kid-1", gotBody.Records[0].OwnerID)
}

func TestHTTPClient_PushSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"code": "E_VALIDATION", "error": "score out of range"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	err := client.Push(context.Background(), "progress", []*store.Record{{ID: "a"}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "E_VALIDATION", apiErr.Code)
	assert.True(t, IsDataLevel(err))
	assert.False(t, IsTransient(err))
}

func TestHTTPClient_PushTransientOn503(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	err := client.Push(context.Background(), "progress", []*store.Record{{ID: "a"}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestHTTPClient_PullParsesRecordsAndQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/progress", r.URL.Path)
		assert.Equal(t, "kid-1", r.URL.Query().Get("owner"))
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pullResponse{Records: []wireRecord{
			{ID: "a", OwnerID: "kid-1", UpdatedAt: since, Fields: map[string]any{"score": float64(10)}},
		}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	records, err := client.Pull(context.Background(), "progress", PullQuery{Owner: "kid-1", UpdatedSince: since})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
	assert.False(t, records[0].Synced, "wire records carry no synced flag")
	assert.Equal(t, float64(10), records[0].Fields["score"])
}

func TestHTTPClient_TransportErrorIsTransient(t *testing.T) {
	// point at a closed port
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewHTTPClient(server.URL, WithTimeout(time.Second))
	err := client.Push(context.Background(), "progress", []*store.Record{{ID: "a"}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
