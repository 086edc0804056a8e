package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/store"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// AlertService is the alert engine surface the API exposes.
type AlertService interface {
	Evaluate(ctx context.Context, r types.Reading) (alerter.Outcome, error)
	Acknowledge(ctx context.Context, id string) (bool, error)
	Resolve(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (types.Alert, error)
	ActiveAlerts(ctx context.Context) ([]types.Alert, error)
	Stats(ctx context.Context, since time.Time) (alerter.Stats, error)
}

// Options configures the API server.
type Options struct {
	Alerts AlertService
	// Realtime serves the websocket endpoint. Optional.
	Realtime http.Handler
	// Logs backs /api/logs. Optional.
	Logs        *LogBuffer
	DeviceCount int
	Version     string
	Commit      string
	BuildDate   string
}

// Server provides HTTP API endpoints
type Server struct {
	opts      Options
	logger    zerolog.Logger
	startTime time.Time
	router    chi.Router
	http      *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	if s.opts.Realtime != nil {
		r.Handle("/ws", s.opts.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/logs", s.handleLogs)
		r.Post("/readings", s.handleReading)
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleAlerts)
			r.Get("/stats", s.handleStats)
			r.Get("/{id}", s.handleAlert)
			r.Post("/{id}/acknowledge", s.handleAcknowledge)
			r.Post("/{id}/resolve", s.handleResolve)
		})
	})
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info().Str("address", addr).Msg("Starting API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", RequestIDFrom(r.Context())).Msg(msg)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns current state summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.opts.Alerts.ActiveAlerts(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_alerts": len(alerts),
		"devices":       s.opts.DeviceCount,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
		"version":       s.opts.Version,
		"commit":        s.opts.Commit,
		"build_date":    s.opts.BuildDate,
	})
}

// handleAlerts returns open alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.opts.Alerts.ActiveAlerts(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleStats returns alert statistics. The period is ?since=<RFC3339> or
// ?hours=<n>, defaulting to the last 24 hours.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		since = t
	} else if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "hours must be a positive integer", err)
			return
		}
		since = time.Now().Add(-time.Duration(h) * time.Hour)
	}

	stats, err := s.opts.Alerts.Stats(r.Context(), since)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.opts.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, "alert not found", err)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to load alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "acknowledged", s.opts.Alerts.Acknowledge)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "resolved", s.opts.Alerts.Resolve)
}

// transition applies a manual lifecycle change. An alert already past the target
// state answers 409.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, field string, fn func(context.Context, string) (bool, error)) {
	id := chi.URLParam(r, "id")
	ok, err := fn(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, "alert not found", err)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to update alert", err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"id": id, field: ok})
}

// handleReading evaluates one reading synchronously.
func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	var reading types.Reading
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&reading); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid reading payload", err)
		return
	}

	out, err := s.opts.Alerts.Evaluate(r.Context(), reading)
	if errors.Is(err, alerter.ErrInvalidReading) {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	resp := map[string]any{
		"created":  nonNil(out.Created),
		"resolved": nonNil(out.Resolved),
	}
	if err != nil {
		errs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			errs = append(errs, e.Error())
		}
		resp["errors"] = errs
		s.logger.Warn().Err(err).Str("device_id", reading.DeviceID).Msg("Reading evaluated with errors")
	}
	writeJSON(w, http.StatusOK, resp)
}

func nonNil(a []types.Alert) []types.Alert {
	if a == nil {
		return []types.Alert{}
	}
	return a
}

// handleLogs returns recent log entries as JSON
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	entries := []LogEntry{}
	if s.opts.Logs != nil {
		entries = s.opts.Logs.Recent(limit, r.URL.Query().Get("level"))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
