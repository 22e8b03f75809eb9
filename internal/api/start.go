package api

import (
	"context"
	"net/http"
	"time"

	"workflow_tracker/internal/core"
	"workflow_tracker/internal/logger"
	"workflow_tracker/pkg"

	"github.com/bytedance/sonic"
)

const triggerTimeout = 30 * time.Second

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req pkg.StartRequest
	if len(body) > 0 {
		if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, pkg.StartResponse{Error: "body is not valid JSON"})
			return
		}
	}

	sessionID := core.NewSessionID()
	resp := pkg.StartResponse{
		Success:     true,
		SessionID:   sessionID,
		CallbackURL: core.CallbackURL(s.opts.PublicBaseURL, t.Config.Name),
		ResponseURL: core.ResponseURL(s.opts.PublicBaseURL, t.Config.Name) + "?session_id=" + sessionID,
	}
	log := logger.With(t.Config.Name, sessionID)

	if t.Config.WorkflowURL == "" || s.opts.Trigger == nil {
		log.Info().Msg("session opened without trigger")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), triggerTimeout)
	defer cancel()
	err := s.opts.Trigger.Trigger(ctx, t.Config.WorkflowURL, pkg.WorkflowTrigger{
		Tracker:     t.Config.Name,
		SessionID:   sessionID,
		CallbackURL: resp.CallbackURL,
		Input:       req.Input,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to trigger workflow")
		// A fast workflow may already have called back.
		_, _ = t.Store.Delete(context.WithoutCancel(r.Context()), sessionID)
		writeJSON(w, http.StatusBadGateway, pkg.StartResponse{Error: "failed to start workflow"})
		return
	}

	log.Info().Msg("workflow triggered")
	writeJSON(w, http.StatusOK, resp)
}
