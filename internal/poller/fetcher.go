package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"workflow_tracker/internal/core"
	"workflow_tracker/internal/storage"
	"workflow_tracker/pkg"

	"github.com/bytedance/sonic"
)

const maxResponseBytes = 8 << 20

// HTTPFetcher queries a tracker's poll endpoint.
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
}

// NewHTTPFetcher targets GET {baseURL}/api/{tracker}/response. A nil client
// gets a 10 second timeout.
func NewHTTPFetcher(baseURL, tracker string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{client: client, endpoint: core.ResponseURL(baseURL, tracker)}
}

// FetchStatus returns plain errors for network failures and unexpected
// status codes, which the poller retries, and ErrMalformedResponse for bodies
// it cannot decode.
func (f *HTTPFetcher) FetchStatus(ctx context.Context, sessionID string) (Status, error) {
	u := f.endpoint + "?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("status request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Status{}, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Status{}, fmt.Errorf("unexpected status response: %s", resp.Status)
	}

	var pr pkg.PollResponse
	if err := sonic.ConfigStd.Unmarshal(body, &pr); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return statusFromResponse(pr)
}

func statusFromResponse(pr pkg.PollResponse) (Status, error) {
	switch {
	case pr.Success:
		if pr.Type != pkg.ResponseTypeFinal || pr.Data == nil {
			return Status{}, fmt.Errorf("%w: success without final data", ErrMalformedResponse)
		}
		return Status{State: storage.StateComplete, Payload: pr.Data}, nil
	case pr.Type == pkg.ResponseTypePartial:
		return Status{State: storage.StatePartial, Message: pr.Message, Received: pr.Received}, nil
	default:
		return Status{State: storage.StateNotFound, Message: pr.Message}, nil
	}
}

// StoreFetcher queries a store in the same process.
type StoreFetcher struct {
	Store storage.Store
}

func (f StoreFetcher) FetchStatus(ctx context.Context, sessionID string) (Status, error) {
	st, err := f.Store.Status(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	out := Status{State: st.State}
	for _, k := range st.Held {
		out.Received = append(out.Received, string(k))
	}
	if st.State == storage.StateComplete {
		out.Payload = make(map[string]json.RawMessage, len(st.Payload))
		for k, v := range st.Payload {
			out.Payload[string(k)] = v
		}
	}
	return out, nil
}
