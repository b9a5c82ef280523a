// Package api serves the optional read-only status endpoints for a running
// analysis.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

// Tracker follows run progress and answers status queries. It satisfies the
// runner's observer contract.
type Tracker struct {
	mu           sync.RWMutex
	runID        core.RunID
	handle       core.ProtectionHandle
	currentPhase string
	runStatus    string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{runStatus: "pending"}
}

// RunStarted records the run identity and the watchdog handle.
func (t *Tracker) RunStarted(runID core.RunID, handle core.ProtectionHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
	t.handle = handle
	t.runStatus = "running"
}

// PhaseStarted records the phase currently executing.
func (t *Tracker) PhaseStarted(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentPhase = key
}

// RunFinished records the terminal run status.
func (t *Tracker) RunFinished(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runStatus = status
	t.currentPhase = ""
}

func (t *Tracker) snapshot() (core.RunID, core.ProtectionHandle, string, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runID, t.handle, t.currentPhase, t.runStatus
}

// Server exposes the status endpoints over HTTP.
type Server struct {
	addr    string
	tracker *Tracker
	logger  *logging.Logger
	router  chi.Router
}

// NewServer builds the server; it does not listen until Run.
func NewServer(addr string, tracker *Tracker, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{addr: addr, tracker: tracker, logger: logger}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/violations", s.handleViolations)
		r.Get("/samples", s.handleSamples)
	})
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("status api listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type statusResponse struct {
	RunID           core.RunID           `json:"run_id"`
	RunStatus       string               `json:"run_status"`
	CurrentPhase    string               `json:"current_phase,omitempty"`
	ProtectionState core.ProtectionState `json:"protection_state"`
	Aborted         bool                 `json:"aborted"`
	SamplesTaken    int                  `json:"samples_taken"`
	SamplesSkipped  int                  `json:"samples_skipped"`
	ViolationCount  int                  `json:"violation_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID, handle, phase, runStatus := s.tracker.snapshot()
	resp := statusResponse{
		RunID:           runID,
		RunStatus:       runStatus,
		CurrentPhase:    phase,
		ProtectionState: core.StateIdle,
	}
	if handle != nil {
		resp.ProtectionState = handle.State()
		resp.Aborted = handle.IsAborted()
		resp.SamplesTaken = handle.SamplesTaken()
		resp.SamplesSkipped = handle.SamplesSkipped()
		resp.ViolationCount = len(handle.Violations())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	_, handle, _, _ := s.tracker.snapshot()
	violations := []core.ViolationEvent{}
	if handle != nil {
		violations = append(violations, handle.Violations()...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"violations": violations})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	_, handle, _, _ := s.tracker.snapshot()
	samples := []core.Sample{}
	if handle != nil {
		samples = append(samples, handle.History()...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
