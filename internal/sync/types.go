package sync

import (
	"time"

	"github.com/jubeeworld/synckit/internal/queue"
)

// Result is the ephemeral per-collection outcome of one sync pass.
type Result struct {
	Collection string   `json:"collection"`
	Synced     int      `json:"synced"`
	Failed     int      `json:"failed"`
	Queued     int      `json:"queued"`
	Conflicts  int      `json:"conflicts"`
	Pulled     int      `json:"pulled"`
	Errors     []string `json:"errors,omitempty"`
}

func newResult(collection string) *Result {
	return &Result{Collection: collection}
}

func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Status is the structured engine state exposed for presentation layers. The
// engine itself performs no user messaging.
type Status struct {
	Syncing          bool               `json:"syncing"`
	Online           bool               `json:"online"`
	SignedIn         bool               `json:"signedIn"`
	StoreDegraded    bool               `json:"storeDegraded"`
	LastSyncAt       time.Time          `json:"lastSyncAt"`
	LastResults      map[string]*Result `json:"lastResults,omitempty"`
	PendingConflicts int                `json:"pendingConflicts"`
	Queue            *queue.Stats       `json:"queue,omitempty"`
}
