package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"workflow_tracker/internal/fragment"
	"workflow_tracker/internal/logger"
	"workflow_tracker/internal/storage"
	"workflow_tracker/pkg"
)

func sessionIDParam(r *http.Request) string {
	q := r.URL.Query()
	for _, name := range sessionIDFields {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	sessionID := sessionIDParam(r)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, pkg.PollResponse{Error: "session_id is required"})
		return
	}

	log := logger.With(t.Config.Name, sessionID)
	st, err := t.Store.Status(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Msg("failed to read session status")
		writeJSON(w, http.StatusInternalServerError, pkg.PollResponse{Error: "failed to read session"})
		return
	}

	switch st.State {
	case storage.StateComplete:
		data := make(map[string]json.RawMessage, len(st.Payload))
		for k, v := range st.Payload {
			data[string(k)] = v
		}
		log.Info().Str("delivery", t.Config.Delivery.String()).Msg("session delivered")
		writeJSON(w, http.StatusOK, pkg.PollResponse{Success: true, Type: pkg.ResponseTypeFinal, Data: data})
	case storage.StatePartial:
		writeJSON(w, http.StatusOK, pkg.PollResponse{
			Type:     pkg.ResponseTypePartial,
			Message:  progressMessage(t.Config.RequiredKinds, st.Held),
			Received: kindNames(st.Held),
		})
	default:
		writeJSON(w, http.StatusOK, pkg.PollResponse{Message: pkg.MessageNoResponse})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	sessionID := sessionIDParam(r)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, pkg.DeleteResponse{Error: "session_id is required"})
		return
	}

	deleted, err := t.Store.Delete(r.Context(), sessionID)
	if err != nil {
		log := logger.With(t.Config.Name, sessionID)
		log.Error().Err(err).Msg("failed to delete session")
		writeJSON(w, http.StatusInternalServerError, pkg.DeleteResponse{Error: "failed to delete session"})
		return
	}
	writeJSON(w, http.StatusOK, pkg.DeleteResponse{Success: true, Deleted: deleted})
}

// progressMessage names what is still outstanding, for UI status lines.
func progressMessage(required, held []fragment.Kind) string {
	have := make(map[fragment.Kind]bool, len(held))
	for _, k := range held {
		have[k] = true
	}
	var waiting []string
	for _, k := range required {
		if !have[k] {
			waiting = append(waiting, string(k))
		}
	}
	if len(waiting) == 0 {
		return "Processing"
	}
	return "Waiting for " + strings.Join(waiting, ", ")
}

func kindNames(kinds []fragment.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
