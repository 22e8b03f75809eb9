package pkg

import "encoding/json"

// Wire types shared by the HTTP API, the poller and the workflow trigger.

const (
	ResponseTypePartial = "partial"
	ResponseTypeFinal   = "final"

	MessageNoResponse = "No response yet"
)

// AckResponse answers a fragment callback.
type AckResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PollResponse answers a status query.
//
// NotFound: success=false, message="No response yet".
// Partial:  success=false, type="partial", message, received.
// Complete: success=true, type="final", data.
type PollResponse struct {
	Success  bool                       `json:"success"`
	Type     string                     `json:"type,omitempty"`
	Message  string                     `json:"message,omitempty"`
	Received []string                   `json:"received,omitempty"`
	Data     map[string]json.RawMessage `json:"data,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// DeleteResponse answers a cancellation.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// StartRequest asks the server to open a session and start the workflow.
type StartRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

// StartResponse returns the session the caller should poll.
type StartResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"session_id,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// WorkflowTrigger is the body posted to an external workflow webhook.
type WorkflowTrigger struct {
	Tracker     string          `json:"tracker"`
	SessionID   string          `json:"session_id"`
	CallbackURL string          `json:"callback_url"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// TrackerInfo describes a configured tracker to clients.
type TrackerInfo struct {
	Name            string   `json:"name"`
	DefaultKind     string   `json:"default_kind"`
	RequiredKinds   []string `json:"required_kinds"`
	Delivery        string   `json:"delivery"`
	PollIntervalMS  int64    `json:"poll_interval_ms"`
	PollMaxAttempts int      `json:"poll_max_attempts"`
}
