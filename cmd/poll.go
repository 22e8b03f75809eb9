package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"workflow_tracker/internal/poller"
	"workflow_tracker/internal/storage"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

// exitTimeout is the exit code used when polling runs out of attempts.
const exitTimeout = 2

const timeoutMessage = "Still working on it. Please try again in a moment."

func newPollCmd() *cobra.Command {
	var (
		baseURL   string
		tracker   string
		sessionID string
		interval  time.Duration
		attempts  int
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Wait for a session to complete and print its merged result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("url") && cfg != nil && cfg.ServerConfig.PublicBaseURL != "" {
				baseURL = cfg.ServerConfig.PublicBaseURL
			}
			trackers, err := loadTrackers()
			if err != nil {
				return err
			}
			tc, err := findTracker(trackers, tracker)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = tc.Poll.Interval
			}
			if !cmd.Flags().Changed("attempts") {
				attempts = tc.Poll.MaxAttempts
			}

			stderr := cmd.ErrOrStderr()
			p := poller.New(poller.NewHTTPFetcher(baseURL, tracker, nil), poller.Options{
				Interval:    interval,
				MaxAttempts: attempts,
				OnProgress: func(pr poller.Progress) {
					switch {
					case pr.Err != nil:
						fmt.Fprintf(stderr, "[%d/%d] retrying: %v\n", pr.Attempt, pr.MaxAttempts, pr.Err)
					case pr.State == storage.StatePartial:
						fmt.Fprintf(stderr, "[%d/%d] %s (received: %s)\n", pr.Attempt, pr.MaxAttempts, pr.Message, strings.Join(pr.Received, ", "))
					default:
						fmt.Fprintf(stderr, "[%d/%d] waiting\n", pr.Attempt, pr.MaxAttempts)
					}
				},
			})

			res, err := p.Poll(cmd.Context(), sessionID)
			if err != nil {
				var terr *poller.TransportError
				if errors.As(err, &terr) {
					return fmt.Errorf("tracker returned an unreadable response: %w", err)
				}
				return err
			}
			if res.Outcome == poller.OutcomeTimeout {
				fmt.Fprintln(stderr, timeoutMessage)
				os.Exit(exitTimeout)
			}

			out, err := sonic.ConfigStd.MarshalIndent(res.Payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "tracker base URL (default $PUBLIC_BASE_URL)")
	cmd.Flags().StringVar(&tracker, "tracker", "content", "tracker name")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to poll")
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "delay between attempts (default from tracker config)")
	cmd.Flags().IntVar(&attempts, "attempts", poller.DefaultMaxAttempts, "maximum attempts (default from tracker config)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
