// Package healthcheck serves a small HTTP endpoint reporting whether the
// worker is alive and what it is doing.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Check reports a problem as a non-nil error.
type Check func(ctx context.Context) error

// Provider returns a JSON-serializable value for the status document.
type Provider func() any

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Response is the body of GET /health.
type Response struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// Server serves GET /health and GET /status.
type Server struct {
	addr   string
	logger *slog.Logger

	mu        sync.RWMutex
	checks    map[string]Check
	providers map[string]Provider
}

// NewServer creates a server listening on addr once ListenAndServe is called.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		logger:    logger.With("component", "healthcheck"),
		checks:    make(map[string]Check),
		providers: make(map[string]Provider),
	}
}

// Register adds a named check to /health.
func (s *Server) Register(name string, c Check) {
	s.mu.Lock()
	s.checks[name] = c
	s.mu.Unlock()
}

// Provide adds a named section to /status.
func (s *Server) Provide(name string, p Provider) {
	s.mu.Lock()
	s.providers[name] = p
	s.mu.Unlock()
}

// Handler returns the router serving both endpoints.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	return router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res := Response{Status: "ok"}
	code := http.StatusOK
	for _, name := range names {
		result := CheckResult{Name: name, OK: true}
		if err := checks[name](ctx); err != nil {
			result.OK = false
			result.Detail = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		res.Checks = append(res.Checks, result)
	}
	writeJSON(w, code, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	doc := make(map[string]any, len(s.providers))
	for name, p := range s.providers {
		doc[name] = p()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("health endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
