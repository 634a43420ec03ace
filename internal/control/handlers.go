package control

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jubeeworld/synckit/internal/conflict"
)

type errorResponse struct {
	Error string `json:"error"`
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

// handleSyncNow triggers a pass and returns its per-collection results. An
// already-running pass returns an empty result set, not an error.
func (s *Server) handleSyncNow(c *gin.Context) {
	results := s.engine.SyncAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleQueuePending(c *gin.Context) {
	stats, err := s.engine.QueueStats(c.Request.Context())
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(c *gin.Context) {
	dead, err := s.engine.DeadLetters(c.Request.Context())
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": dead})
}

func (s *Server) handleQueueProcess(c *gin.Context) {
	report, err := s.engine.ProcessQueue(c.Request.Context())
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleConflictList(c *gin.Context) {
	ctx := c.Request.Context()
	var groups []*conflict.Group
	var err error
	if collection := c.Query("collection"); collection != "" {
		groups, err = s.engine.ConflictsByCollection(ctx, collection)
	} else {
		groups, err = s.engine.Conflicts(ctx)
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": groups})
}

func (s *Server) handleConflictDiagnosis(c *gin.Context) {
	choice, err := s.engine.Diagnosis(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conflict.ErrNotFound) {
			abortError(c, http.StatusNotFound, err)
			return
		}
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendation": choice})
}

type resolveRequest struct {
	Choice conflict.Choice `json:"choice" binding:"required"`
}

func (s *Server) handleConflictResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if !req.Choice.Valid() {
		abortError(c, http.StatusBadRequest, errors.New("choice must be local, server, or merge"))
		return
	}

	err := s.engine.ResolveConflict(c.Request.Context(), c.Param("id"), req.Choice)
	if err != nil {
		if errors.Is(err, conflict.ErrNotFound) {
			abortError(c, http.StatusNotFound, err)
			return
		}
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": 1})
}

type resolveBulkRequest struct {
	Choice     conflict.Choice `json:"choice" binding:"required"`
	IDs        []string        `json:"ids,omitempty"`
	Collection string          `json:"collection,omitempty"`
}

// handleConflictResolveBulk resolves by explicit ids, by collection, or
// everything pending when neither is given.
func (s *Server) handleConflictResolveBulk(c *gin.Context) {
	var req resolveBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if !req.Choice.Valid() {
		abortError(c, http.StatusBadRequest, errors.New("choice must be local, server, or merge"))
		return
	}

	ctx := c.Request.Context()
	var resolved int
	var err error
	switch {
	case len(req.IDs) > 0:
		resolved, err = s.engine.ResolveConflicts(ctx, req.IDs, req.Choice)
	case req.Collection != "":
		resolved, err = s.engine.ResolveCollectionConflicts(ctx, req.Collection, req.Choice)
	default:
		resolved, err = s.engine.ResolveAllConflicts(ctx, req.Choice)
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}
