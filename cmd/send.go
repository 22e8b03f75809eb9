package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"workflow_tracker/internal/core"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

// newSendCmd posts one fragment the way an external workflow would.
func newSendCmd() *cobra.Command {
	var (
		baseURL   string
		tracker   string
		sessionID string
		kind      string
		data      string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a fragment to a tracker callback",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("url") && cfg != nil && cfg.ServerConfig.PublicBaseURL != "" {
				baseURL = cfg.ServerConfig.PublicBaseURL
			}
			var payload any
			if err := sonic.ConfigStd.UnmarshalFromString(data, &payload); err != nil {
				return fmt.Errorf("--data is not valid JSON: %w", err)
			}
			body := map[string]any{"session_id": sessionID, "data": payload}
			if kind != "" {
				body["response_type"] = kind
			}
			raw, err := sonic.ConfigStd.Marshal(body)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, core.CallbackURL(baseURL, tracker), bytes.NewReader(raw))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("callback failed: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Status, bytes.TrimSpace(out))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("callback rejected: %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "tracker base URL (default $PUBLIC_BASE_URL)")
	cmd.Flags().StringVar(&tracker, "tracker", "content", "tracker name")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&kind, "kind", "", "fragment kind (response_type); tracker default when empty")
	cmd.Flags().StringVar(&data, "data", "{}", "fragment payload as JSON")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
