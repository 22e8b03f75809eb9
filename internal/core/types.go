package core

import (
	"fmt"
	"time"

	"workflow_tracker/internal/config"
	"workflow_tracker/internal/fragment"
	"workflow_tracker/internal/storage"
)

const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultPollMaxAttempts = 40
)

// PollConfig is the client-side budget for waiting on a tracker. It should
// follow the expected latency of the external workflow.
type PollConfig struct {
	Interval    time.Duration `json:"interval"`
	MaxAttempts int           `json:"max_attempts"`
}

// TrackerConfig describes one callback/poll endpoint pair.
type TrackerConfig struct {
	Name string `json:"name"`
	// DefaultKind is used when a callback carries no response_type.
	DefaultKind   fragment.Kind          `json:"default_kind"`
	RequiredKinds []fragment.Kind        `json:"required_kinds"`
	Delivery      storage.DeliveryPolicy `json:"delivery"`
	// WorkflowURL is the external workflow webhook started by /start. Empty
	// means the caller triggers the workflow itself.
	WorkflowURL string     `json:"workflow_url,omitempty"`
	Poll        PollConfig `json:"poll"`
}

// Predicate returns the completion rule for this tracker.
func (c TrackerConfig) Predicate() storage.Predicate {
	return storage.RequireKinds(c.RequiredKinds...)
}

// DefaultTrackers are the built-in trackers used when no trackers file exists.
func DefaultTrackers() []TrackerConfig {
	return []TrackerConfig{
		{
			Name:          "content",
			DefaultKind:   fragment.KindContent,
			RequiredKinds: []fragment.Kind{fragment.KindContent},
			Delivery:      storage.DeliverOnce,
			Poll:          PollConfig{Interval: DefaultPollInterval, MaxAttempts: 40},
		},
		{
			Name:          "guidance",
			DefaultKind:   fragment.KindContent,
			RequiredKinds: []fragment.Kind{fragment.KindContent, fragment.KindGuidance},
			Delivery:      storage.DeliverOnce,
			Poll:          PollConfig{Interval: DefaultPollInterval, MaxAttempts: 80},
		},
		{
			Name:          "repurpose",
			DefaultKind:   fragment.KindRepurpose,
			RequiredKinds: []fragment.Kind{fragment.KindRepurpose},
			Delivery:      storage.DeliverRepeatable,
			Poll:          PollConfig{Interval: DefaultPollInterval, MaxAttempts: 60},
		},
	}
}

// TrackersFromYAML converts the trackers file. A nil file yields the
// built-in trackers.
func TrackersFromYAML(y *config.YAMLConfig) ([]TrackerConfig, error) {
	if y == nil || len(y.Trackers) == 0 {
		return DefaultTrackers(), nil
	}

	out := make([]TrackerConfig, 0, len(y.Trackers))
	for _, t := range y.Trackers {
		delivery, err := storage.ParseDeliveryPolicy(t.Delivery)
		if err != nil {
			return nil, fmt.Errorf("tracker %q: %w", t.Name, err)
		}

		required := make([]fragment.Kind, 0, len(t.RequiredKinds))
		for _, s := range t.RequiredKinds {
			k, err := fragment.ParseKind(s)
			if err != nil {
				return nil, fmt.Errorf("tracker %q: %w", t.Name, err)
			}
			required = append(required, k)
		}

		var defaultKind fragment.Kind
		switch {
		case t.DefaultKind != "":
			defaultKind, err = fragment.ParseKind(t.DefaultKind)
			if err != nil {
				return nil, fmt.Errorf("tracker %q: %w", t.Name, err)
			}
		case len(required) > 0:
			defaultKind = required[0]
		default:
			defaultKind = fragment.KindContent
		}

		poll := PollConfig{Interval: t.Poll.Interval, MaxAttempts: t.Poll.MaxAttempts}
		if poll.Interval <= 0 {
			poll.Interval = DefaultPollInterval
		}
		if poll.MaxAttempts <= 0 {
			poll.MaxAttempts = DefaultPollMaxAttempts
		}

		out = append(out, TrackerConfig{
			Name:          t.Name,
			DefaultKind:   defaultKind,
			RequiredKinds: required,
			Delivery:      delivery,
			WorkflowURL:   t.WorkflowURL,
			Poll:          poll,
		})
	}
	return out, nil
}
