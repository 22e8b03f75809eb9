package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"workflow_tracker/internal/fragment"
	"workflow_tracker/internal/logger"
	"workflow_tracker/internal/storage"
	"workflow_tracker/pkg"

	"github.com/bytedance/sonic"
)

var (
	sessionIDFields    = []string{"session_id", "sessionId"}
	responseTypeFields = []string{"response_type", "responseType"}
)

// callback is a decoded fragment delivery.
type callback struct {
	SessionID string
	Kind      fragment.Kind
	Payload   json.RawMessage
}

// decodeCallback splits a callback body into its correlation key, its kind
// and its payload. The payload is the "data" field when that is the only
// remaining field, otherwise every field other than the id and kind.
func decodeCallback(body []byte, defaultKind fragment.Kind) (callback, error) {
	var fields map[string]json.RawMessage
	if err := sonic.ConfigStd.Unmarshal(body, &fields); err != nil {
		return callback{}, fmt.Errorf("%w: body is not a JSON object", fragment.ErrMalformedPayload)
	}
	if fields == nil {
		return callback{}, fmt.Errorf("%w: body is not a JSON object", fragment.ErrMalformedPayload)
	}

	sessionID, err := takeString(fields, sessionIDFields)
	if err != nil {
		return callback{}, err
	}
	if sessionID == "" {
		return callback{}, storage.ErrMissingSessionID
	}

	kindName, err := takeString(fields, responseTypeFields)
	if err != nil {
		return callback{}, err
	}
	kind := defaultKind
	if kindName != "" {
		if kind, err = fragment.ParseKind(kindName); err != nil {
			return callback{}, err
		}
	}

	var payload json.RawMessage
	if data, ok := fields["data"]; ok && len(fields) == 1 {
		payload = data
	} else {
		payload, err = sonic.ConfigStd.Marshal(fields)
		if err != nil {
			return callback{}, fmt.Errorf("%w: %v", fragment.ErrMalformedPayload, err)
		}
	}

	payload, err = fragment.Validate(kind, payload)
	if err != nil {
		return callback{}, err
	}
	return callback{SessionID: sessionID, Kind: kind, Payload: payload}, nil
}

// takeString removes the first present name from fields and returns its
// string value.
func takeString(fields map[string]json.RawMessage, names []string) (string, error) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		if string(raw) == "null" {
			return "", nil
		}
		var s string
		if err := sonic.ConfigStd.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %s must be a string", fragment.ErrMalformedPayload, name)
		}
		return s, nil
	}
	return "", nil
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	cb, err := decodeCallback(body, t.Config.DefaultKind)
	if err != nil {
		logger.Warn().Err(err).Str("tracker", t.Config.Name).Msg("rejected callback")
		writeJSON(w, http.StatusBadRequest, pkg.AckResponse{Error: clientError(err)})
		return
	}

	log := logger.With(t.Config.Name, cb.SessionID)
	if err := t.Store.Merge(r.Context(), cb.SessionID, cb.Kind, cb.Payload); err != nil {
		if isClientError(err) {
			writeJSON(w, http.StatusBadRequest, pkg.AckResponse{Error: clientError(err)})
			return
		}
		log.Error().Err(err).Str("kind", string(cb.Kind)).Msg("failed to merge fragment")
		writeJSON(w, http.StatusInternalServerError, pkg.AckResponse{Error: "failed to store fragment"})
		return
	}

	log.Info().Str("kind", string(cb.Kind)).Int("bytes", len(cb.Payload)).Msg("fragment received")
	writeJSON(w, http.StatusOK, pkg.AckResponse{Success: true})
}

func isClientError(err error) bool {
	return errors.Is(err, storage.ErrMissingSessionID) || errors.Is(err, fragment.ErrMalformedPayload)
}

// clientError turns a client-side error into the message returned in 4xx
// bodies.
func clientError(err error) string {
	if errors.Is(err, storage.ErrMissingSessionID) {
		return "session_id is required"
	}
	return err.Error()
}
