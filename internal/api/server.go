// Package api exposes the callback, poll, cancel and start endpoints of every
// configured tracker.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"workflow_tracker/internal/core"
	"workflow_tracker/internal/logger"
	"workflow_tracker/pkg"

	"github.com/bytedance/sonic"
)

const defaultMaxBodyBytes = 1 << 20

// Triggerer starts an external workflow.
type Triggerer interface {
	Trigger(ctx context.Context, workflowURL string, req pkg.WorkflowTrigger) error
}

// Options configure the HTTP layer.
type Options struct {
	// PublicBaseURL is the externally reachable address used to build
	// callback URLs handed to workflows.
	PublicBaseURL string
	MaxBodyBytes  int64
	Trigger       Triggerer
}

// Server routes requests to trackers.
type Server struct {
	registry *core.Registry
	opts     Options
	mux      *http.ServeMux
}

// NewServer registers all routes.
func NewServer(registry *core.Registry, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{registry: registry, opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/{tracker}/callback", s.handleCallback)
	s.mux.HandleFunc("GET /api/{tracker}/response", s.handlePoll)
	s.mux.HandleFunc("DELETE /api/{tracker}/response", s.handleCancel)
	s.mux.HandleFunc("POST /api/{tracker}/start", s.handleStart)
	s.mux.HandleFunc("GET /api/trackers", s.handleTrackers)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler returns the routes wrapped in logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return recoverer(requestLogger(s.mux))
}

func (s *Server) tracker(w http.ResponseWriter, r *http.Request) (*core.Tracker, bool) {
	name := r.PathValue("tracker")
	t, ok := s.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, pkg.AckResponse{Error: "unknown tracker: " + name})
		return nil, false
	}
	return t, true
}

// readBody enforces MaxBodyBytes. It writes the error response itself.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, pkg.AckResponse{Error: "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, pkg.AckResponse{Error: "failed to read request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) handleTrackers(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	out := make([]pkg.TrackerInfo, 0, len(names))
	for _, name := range names {
		t, _ := s.registry.Get(name)
		cfg := t.Config
		required := make([]string, len(cfg.RequiredKinds))
		for i, k := range cfg.RequiredKinds {
			required[i] = string(k)
		}
		out = append(out, pkg.TrackerInfo{
			Name:            cfg.Name,
			DefaultKind:     string(cfg.DefaultKind),
			RequiredKinds:   required,
			Delivery:        cfg.Delivery.String(),
			PollIntervalMS:  cfg.Poll.Interval.Milliseconds(),
			PollMaxAttempts: cfg.Poll.MaxAttempts,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Ping(r.Context()); err != nil {
		logger.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, pkg.AckResponse{Error: "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, pkg.AckResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal response")
		http.Error(w, `{"success":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
