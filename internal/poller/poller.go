// Package poller waits for a tracker session to complete by repeatedly
// querying its status.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workflow_tracker/internal/storage"

	"golang.org/x/time/rate"
)

const (
	DefaultInterval    = 1500 * time.Millisecond
	DefaultMaxAttempts = 40
)

// ErrMalformedResponse marks a status response that cannot be understood.
// Retrying cannot fix it, so the poller stops at once.
var ErrMalformedResponse = errors.New("malformed status response")

// Status is one observation of a session.
type Status struct {
	State    storage.State
	Message  string
	Received []string
	Payload  map[string]json.RawMessage
}

// StatusFetcher performs a single status query.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, sessionID string) (Status, error)
}

// FetcherFunc adapts a function to StatusFetcher.
type FetcherFunc func(ctx context.Context, sessionID string) (Status, error)

func (f FetcherFunc) FetchStatus(ctx context.Context, sessionID string) (Status, error) {
	return f(ctx, sessionID)
}

// TransportError reports a status query failure the poller gave up on.
type TransportError struct {
	SessionID string
	Attempt   int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poll %s: attempt %d: %v", e.SessionID, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Outcome is the terminal state of a successful Poll call.
type Outcome int

const (
	OutcomeComplete Outcome = iota + 1
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by Poll when the loop ends without a hard error.
type Result struct {
	Outcome Outcome
	// Payload is the merged result, set when Outcome is OutcomeComplete.
	Payload  map[string]json.RawMessage
	Attempts int
	// LastErr is the most recent transient failure, if any.
	LastErr error
}

// Progress is reported after every non-terminal attempt.
type Progress struct {
	Attempt     int
	MaxAttempts int
	State       storage.State
	Message     string
	Received    []string
	// Err is set when the attempt failed with a retryable error.
	Err error
}

// Options configure a Poller.
type Options struct {
	// Interval separates the start of consecutive attempts.
	Interval    time.Duration
	MaxAttempts int
	OnProgress  func(Progress)
}

// Poller repeats status queries until the session completes or the attempt
// budget runs out.
type Poller struct {
	fetcher StatusFetcher
	opts    Options
}

// New creates a Poller. Zero options take the defaults; a negative Interval
// disables waiting between attempts.
func New(fetcher StatusFetcher, opts Options) *Poller {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Poller{fetcher: fetcher, opts: opts}
}

// Poll issues at most MaxAttempts status queries. It returns a Result with
// OutcomeComplete or OutcomeTimeout, a *TransportError for non-retryable
// failures, or the context error when ctx ends first. Poll never mutates the
// store, so cancelling it is always safe.
func (p *Poller) Poll(ctx context.Context, sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, storage.ErrMissingSessionID
	}

	limiter := rate.NewLimiter(rate.Every(p.opts.Interval), 1)
	var lastErr error

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// The next attempt would start after the deadline.
			return nil, fmt.Errorf("poll %s: %w", sessionID, context.DeadlineExceeded)
		}

		st, err := p.fetcher.FetchStatus(ctx, sessionID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrMalformedResponse) {
				return nil, &TransportError{SessionID: sessionID, Attempt: attempt, Err: err}
			}
			lastErr = err
			p.report(Progress{Attempt: attempt, MaxAttempts: p.opts.MaxAttempts, Err: err})
			continue
		}

		if st.State == storage.StateComplete {
			return &Result{Outcome: OutcomeComplete, Payload: st.Payload, Attempts: attempt, LastErr: lastErr}, nil
		}
		p.report(Progress{
			Attempt:     attempt,
			MaxAttempts: p.opts.MaxAttempts,
			State:       st.State,
			Message:     st.Message,
			Received:    st.Received,
		})
	}

	return &Result{Outcome: OutcomeTimeout, Attempts: p.opts.MaxAttempts, LastErr: lastErr}, nil
}

func (p *Poller) report(pr Progress) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(pr)
	}
}
