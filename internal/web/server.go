package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/PlotGo/internal/control"
	"github.com/cjeanneret/PlotGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for addr serving the embedded static page.
func NewServer(addr string, b *StatusBroadcaster, drawFn DrawFunc, ctrl *control.Control, defaults PenDefaults) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(b, drawFn, ctrl, defaults, subFS),
	}, nil
}

// Handlers returns the server's handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /draw", s.handlers.HandleDraw)
	mux.HandleFunc("POST /pause", s.handlers.HandlePause)
	mux.HandleFunc("POST /resume", s.handlers.HandleResume)
	mux.HandleFunc("POST /cancel", s.handlers.HandleCancel)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex)

	return mux
}

// Run serves until ctx is cancelled, then shuts down and waits for a
// running draw to return. Draws run under ctx, so cancelling it also stops
// them with the pen raised.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.ctx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	s.handlers.Wait()
	return err
}
