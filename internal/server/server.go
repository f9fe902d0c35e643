// Package server exposes the latest scan over HTTP on a local socket: a unix
// domain socket on Unix-like systems and a named pipe on Windows.
//
// The server holds the most recent [engine.Response]. [Server.Refresh] is
// driven by the caller (the serve command rescans on file events and on a
// poll ticker); requests never trigger a scan unless no snapshot exists yet.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"tools.zach/dev/agentwatch/internal/engine"
	"tools.zach/dev/agentwatch/internal/projectconfig"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Scanner produces snapshots. [engine.Engine] satisfies it.
type Scanner interface {
	Scan(ctx context.Context) (*engine.Response, error)
}

// LinksResponse is the body of GET /v1/links.
type LinksResponse struct {
	Links        []projectconfig.Link `json:"links"`
	SessionLinks []projectconfig.Link `json:"sessionLinks"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

// Server serves snapshots produced by a Scanner.
type Server struct {
	scanner Scanner
	links   *projectconfig.Store
	log     *slog.Logger

	mu      sync.RWMutex
	latest  *engine.Response
	updated time.Time
}

// New returns a Server. links may be nil, in which case /v1/links is not
// served.
func New(scanner Scanner, links *projectconfig.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{scanner: scanner, links: links, log: log}
}

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// Refresh runs a scan and stores the result. On failure the previous
// snapshot is kept.
func (s *Server) Refresh(ctx context.Context) error {
	resp, err := s.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}
	s.mu.Lock()
	s.latest = resp
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}

// Snapshot returns the latest response and when it was taken. The response
// is nil before the first successful Refresh.
func (s *Server) Snapshot() (*engine.Response, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.updated
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	if s.links != nil {
		mux.HandleFunc("GET /v1/links", s.handleLinks)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp, updated := s.Snapshot()
	if resp == nil {
		if err := s.Refresh(r.Context()); err != nil {
			s.log.Warn("on-demand scan failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		resp, updated = s.Snapshot()
	}
	w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing path parameter"})
		return
	}
	out := LinksResponse{Links: s.links.ProjectLinks(path)}
	if id := r.URL.Query().Get("session"); id != "" {
		out.SessionLinks = s.links.SessionLinks(path, id)
	}
	if out.SessionLinks == nil {
		out.SessionLinks = []projectconfig.Link{}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// ///////////////////////////////////////////////
// Serving
// ///////////////////////////////////////////////

// shutdownTimeout bounds how long in-flight requests may finish on shutdown.
const shutdownTimeout = 3 * time.Second

// Serve handles requests on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()
	s.log.Info("serving snapshots", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
