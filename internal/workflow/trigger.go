// Package workflow starts external AI workflows. The workflows themselves are
// opaque: they receive a session id and a callback URL and eventually post
// fragments back.
package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"workflow_tracker/pkg"

	"github.com/bytedance/sonic"
)

const DefaultTimeout = 30 * time.Second

// Client posts trigger requests to workflow webhooks.
type Client struct {
	http *http.Client
}

// NewClient creates a client. A nil httpClient gets DefaultTimeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: httpClient}
}

// Trigger starts the workflow at workflowURL. It returns once the workflow
// has accepted the request; results arrive later on the callback URL.
func (c *Client) Trigger(ctx context.Context, workflowURL string, req pkg.WorkflowTrigger) error {
	body, err := sonic.ConfigStd.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, workflowURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("workflow rejected trigger: %s", resp.Status)
	}
	return nil
}
