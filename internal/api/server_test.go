package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"workflow_tracker/internal/core"
	"workflow_tracker/internal/fragment"
	"workflow_tracker/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	mu    sync.Mutex
	calls []pkg.WorkflowTrigger
	urls  []string
	err   error
}

func (f *fakeTrigger) Trigger(_ context.Context, workflowURL string, req pkg.WorkflowTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.urls = append(f.urls, workflowURL)
	return f.err
}

func newTestServer(t *testing.T, trigger Triggerer) *httptest.Server {
	t.Helper()

	trackers := core.DefaultTrackers()
	trackers[1].WorkflowURL = "https://hooks.example.com/guidance"

	reg, err := core.NewRegistry(trackers, core.MemoryStores(), core.RegistryOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	srv := httptest.NewServer(NewServer(reg, Options{
		PublicBaseURL: "https://tracker.example.com",
		MaxBodyBytes:  4096,
		Trigger:       trigger,
	}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func del(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp.StatusCode, out
}

func TestCallbackAndPollScenario(t *testing.T) {
	srv := newTestServer(t, nil)
	poll := srv.URL + "/api/guidance/response?session_id=sess-1"

	status, body := get(t, poll)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, pkg.MessageNoResponse, body["message"])

	status, body = postJSON(t, srv.URL+"/api/guidance/callback",
		`{"session_id":"sess-1","response_type":"content","text":"hello"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = get(t, poll)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, pkg.ResponseTypePartial, body["type"])
	assert.Equal(t, "Waiting for guidance", body["message"])
	assert.Equal(t, []any{"content"}, body["received"])

	status, _ = postJSON(t, srv.URL+"/api/guidance/callback",
		`{"session_id":"sess-1","response_type":"guidance","data":{"tips":["a","b"]}}`)
	assert.Equal(t, http.StatusOK, status)

	status, body = get(t, poll)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, pkg.ResponseTypeFinal, body["type"])
	assert.Equal(t, map[string]any{
		"content":  map[string]any{"text": "hello"},
		"guidance": map[string]any{"tips": []any{"a", "b"}},
	}, body["data"])

	_, body = get(t, poll)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, pkg.MessageNoResponse, body["message"])
}

func TestCallbackDefaultKindAndRepeatableDelivery(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := postJSON(t, srv.URL+"/api/repurpose/callback",
		`{"sessionId":"r-1","posts":[{"text":"one"}],"platform":"linkedin"}`)
	require.Equal(t, http.StatusOK, status)

	for i := 0; i < 2; i++ {
		_, body := get(t, srv.URL+"/api/repurpose/response?sessionId=r-1")
		assert.Equal(t, true, body["success"], "read %d", i)
		data := body["data"].(map[string]any)
		assert.Contains(t, data, string(fragment.KindRepurpose))
	}
}

func TestCallbackErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	url := srv.URL + "/api/content/callback"

	cases := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"invalid json", `{"session_id":`, http.StatusBadRequest, "malformed payload"},
		{"not an object", `["a"]`, http.StatusBadRequest, "malformed payload"},
		{"null body", `null`, http.StatusBadRequest, "malformed payload"},
		{"missing session", `{"text":"hi"}`, http.StatusBadRequest, "session_id is required"},
		{"empty session", `{"session_id":"","text":"hi"}`, http.StatusBadRequest, "session_id is required"},
		{"session not string", `{"session_id":7,"text":"hi"}`, http.StatusBadRequest, "session_id must be a string"},
		{"schema violation", `{"session_id":"s","title":"no text"}`, http.StatusBadRequest, "content"},
		{"reserved kind", `{"session_id":"s","response_type":"@updated"}`, http.StatusBadRequest, "reserved"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := postJSON(t, url, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tc.errMsg)
		})
	}
}

func TestCallbackUnknownKindAccepted(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := postJSON(t, srv.URL+"/api/guidance/callback",
		`{"session_id":"s","response_type":"hashtags","tags":["go"]}`)
	assert.Equal(t, http.StatusOK, status)

	_, body := get(t, srv.URL+"/api/guidance/response?session_id=s")
	assert.Equal(t, []any{"hashtags"}, body["received"])
	assert.Equal(t, "Waiting for content, guidance", body["message"])
}

func TestCallbackBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, nil)

	big := `{"session_id":"s","text":"` + strings.Repeat("x", 8192) + `"}`
	status, _ := postJSON(t, srv.URL+"/api/content/callback", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestUnknownTracker(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := postJSON(t, srv.URL+"/api/nope/callback", `{"session_id":"s"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "nope")
}

func TestPollMissingSessionID(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/api/content/response")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "session_id is required", body["error"])

	status, _ = del(t, srv.URL+"/api/content/response")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCancel(t *testing.T) {
	srv := newTestServer(t, nil)

	postJSON(t, srv.URL+"/api/guidance/callback", `{"session_id":"c-1","text":"draft"}`)

	status, body := del(t, srv.URL+"/api/guidance/response?session_id=c-1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["deleted"])

	_, body = del(t, srv.URL+"/api/guidance/response?session_id=c-1")
	assert.Equal(t, false, body["deleted"])

	_, body = get(t, srv.URL+"/api/guidance/response?session_id=c-1")
	assert.Equal(t, pkg.MessageNoResponse, body["message"])
}

func TestStartTriggersWorkflow(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := newTestServer(t, trigger)

	status, body := postJSON(t, srv.URL+"/api/guidance/start", `{"input":{"topic":"go"}}`)
	require.Equal(t, http.StatusOK, status)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "https://tracker.example.com/api/guidance/callback", body["callback_url"])
	assert.Equal(t, "https://tracker.example.com/api/guidance/response?session_id="+sessionID, body["response_url"])

	require.Len(t, trigger.calls, 1)
	assert.Equal(t, "https://hooks.example.com/guidance", trigger.urls[0])
	assert.Equal(t, sessionID, trigger.calls[0].SessionID)
	assert.Equal(t, "guidance", trigger.calls[0].Tracker)
	assert.JSONEq(t, `{"topic":"go"}`, string(trigger.calls[0].Input))
}

func TestStartWithoutWorkflowURL(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := newTestServer(t, trigger)

	status, body := postJSON(t, srv.URL+"/api/content/start", ``)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["session_id"])
	assert.Empty(t, trigger.calls)
}

func TestStartTriggerFailure(t *testing.T) {
	srv := newTestServer(t, &fakeTrigger{err: errors.New("connection refused")})

	status, body := postJSON(t, srv.URL+"/api/guidance/start", `{}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, false, body["success"])
}

func TestTrackersAndHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/trackers")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var infos []pkg.TrackerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "guidance", infos[1].Name)
	assert.Equal(t, []string{"content", "guidance"}, infos[1].RequiredKinds)
	assert.Equal(t, 80, infos[1].PollMaxAttempts)
	assert.Equal(t, "repeatable", infos[2].Delivery)

	status, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestDecodeCallbackPayloadShapes(t *testing.T) {
	cb, err := decodeCallback([]byte(`{"session_id":"s","data":{"text":"x"}}`), fragment.KindContent)
	require.NoError(t, err)
	assert.Equal(t, fragment.KindContent, cb.Kind)
	assert.JSONEq(t, `{"text":"x"}`, string(cb.Payload))

	cb, err = decodeCallback([]byte(`{"session_id":"s","data":{"a":1},"text":"x"}`), fragment.KindContent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"a":1},"text":"x"}`, string(cb.Payload))

	cb, err = decodeCallback([]byte(`{"session_id":"s","response_type":"Guidance","guidance":"warm tones"}`), fragment.KindContent)
	require.NoError(t, err)
	assert.Equal(t, fragment.KindGuidance, cb.Kind)
	assert.JSONEq(t, `{"guidance":"warm tones"}`, string(cb.Payload))
}
