// Package control exposes the engine over a local HTTP surface so desktop
// shells and scripts can trigger syncs, inspect the queue, and settle
// conflicts without linking the engine directly.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/jubeeworld/synckit/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// Server is the local control-plane HTTP server.
type Server struct {
	addr     string
	engine   *sync.Engine
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
}

// New builds the server; addr is host:port, port 0 picks a free one.
func New(addr string, engine *sync.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		sloggin.NewWithConfig(slog.Default(), sloggin.Config{
			WithSpanID:  false,
			WithTraceID: false,
			Filters: []sloggin.Filter{
				sloggin.IgnorePath("/health"),
			},
		}),
		gin.Recovery(),
	)

	s := &Server{
		addr:   addr,
		engine: engine,
		router: router,
	}
	s.registerRoutes()
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.router}

	slog.Info("control server started", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the server down, letting in-flight requests drain.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	slog.Info("stopping control server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once Start has listened.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/sync", s.handleSyncNow)

	v1.GET("/queue", s.handleQueuePending)
	v1.GET("/queue/dead-letters", s.handleDeadLetters)
	v1.POST("/queue/process", s.handleQueueProcess)

	v1.GET("/conflicts", s.handleConflictList)
	v1.GET("/conflicts/:id/diagnosis", s.handleConflictDiagnosis)
	v1.POST("/conflicts/:id/resolve", s.handleConflictResolve)
	v1.POST("/conflicts/resolve", s.handleConflictResolveBulk)
}
