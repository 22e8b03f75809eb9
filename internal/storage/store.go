package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workflow_tracker/internal/fragment"
)

// DefaultTTL is how long a session survives after its last fragment merge.
const DefaultTTL = 10 * time.Minute

// ErrMissingSessionID is returned when a caller omits the correlation key.
var ErrMissingSessionID = errors.New("session id is required")

// Store holds the partially assembled results of in-flight sessions.
//
// All operations on one session id are linearizable. Absent and partial
// sessions are reported through Status, never as errors.
type Store interface {
	// Merge creates the session if needed and sets fragments[kind] = payload.
	Merge(ctx context.Context, sessionID string, kind fragment.Kind, payload []byte) error
	// Status reports whether the session is complete. Under DeliverOnce a
	// complete result is removed in the same step.
	Status(ctx context.Context, sessionID string) (Status, error)
	// ExpireStale deletes every session last updated before now-ttl.
	ExpireStale(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
	// Delete removes a session and reports whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// State is the coarse outcome of a status query.
type State int

const (
	// StateNotFound covers both "nothing arrived yet" and "already delivered
	// or expired". Callers cannot tell them apart.
	StateNotFound State = iota
	StatePartial
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNotFound:
		return "not_found"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the answer to a status query.
type Status struct {
	State State
	// Held lists the kinds present when State is StatePartial or StateComplete.
	Held []fragment.Kind
	// Payload is set only when State is StateComplete.
	Payload fragment.Set
}

// DeliveryPolicy decides what happens to a session once it is read complete.
type DeliveryPolicy int

const (
	// DeliverOnce hands a complete result to exactly one reader.
	DeliverOnce DeliveryPolicy = iota
	// DeliverRepeatable keeps complete results readable until they expire.
	DeliverRepeatable
)

// ParseDeliveryPolicy maps the config names "once" and "repeatable".
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch s {
	case "", "once":
		return DeliverOnce, nil
	case "repeatable":
		return DeliverRepeatable, nil
	default:
		return 0, fmt.Errorf("unknown delivery policy %q", s)
	}
}

func (p DeliveryPolicy) String() string {
	if p == DeliverRepeatable {
		return "repeatable"
	}
	return "once"
}

// Predicate decides from the held kinds whether a session is complete.
type Predicate func(held []fragment.Kind) bool

// RequireKinds is complete once every kind in required is held. With no
// required kinds, any single fragment completes the session.
func RequireKinds(required ...fragment.Kind) Predicate {
	req := append([]fragment.Kind(nil), required...)
	return func(held []fragment.Kind) bool {
		if len(req) == 0 {
			return len(held) > 0
		}
		have := make(map[fragment.Kind]struct{}, len(held))
		for _, k := range held {
			have[k] = struct{}{}
		}
		for _, k := range req {
			if _, ok := have[k]; !ok {
				return false
			}
		}
		return true
	}
}

// Options configure either backend.
type Options struct {
	Predicate Predicate
	Delivery  DeliveryPolicy
	TTL       time.Duration
	// SweepInterval throttles the opportunistic full sweep run by Status.
	// Zero disables it; stale records are still dropped when read.
	SweepInterval time.Duration
	Clock         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Predicate == nil {
		o.Predicate = RequireKinds()
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func checkMerge(sessionID string, kind fragment.Kind) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if kind == "" {
		return fmt.Errorf("%w: empty fragment kind", fragment.ErrMalformedPayload)
	}
	return nil
}
