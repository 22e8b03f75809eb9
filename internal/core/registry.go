package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"workflow_tracker/internal/logger"
	"workflow_tracker/internal/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Tracker pairs a tracker definition with the store holding its sessions.
type Tracker struct {
	Config TrackerConfig
	Store  storage.Store
}

// StoreFactory builds the store for one tracker.
type StoreFactory func(cfg TrackerConfig, opts storage.Options) storage.Store

// MemoryStores returns a factory that keeps every tracker in process memory.
func MemoryStores() StoreFactory {
	return func(_ TrackerConfig, opts storage.Options) storage.Store {
		return storage.NewMemoryStore(opts)
	}
}

// RedisStores returns a factory that keeps every tracker in one Redis.
func RedisStores(client *redis.Client) StoreFactory {
	return func(cfg TrackerConfig, opts storage.Options) storage.Store {
		return storage.NewRedisStore(client, cfg.Name, opts)
	}
}

// Registry owns one Tracker per configured name. It is built once per process
// and handed to the HTTP layer.
type Registry struct {
	trackers map[string]*Tracker
	names    []string
	ttl      time.Duration
	sweepers []*storage.Sweeper
}

// RegistryOptions tune the stores the registry creates.
type RegistryOptions struct {
	TTL time.Duration
	// LazySweepInterval throttles the opportunistic sweep done on reads.
	LazySweepInterval time.Duration
	Clock             func() time.Time
}

// NewRegistry builds a store for every tracker using factory.
func NewRegistry(trackers []TrackerConfig, factory StoreFactory, opts RegistryOptions) (*Registry, error) {
	if len(trackers) == 0 {
		return nil, errors.New("at least one tracker is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = storage.DefaultTTL
	}

	r := &Registry{
		trackers: make(map[string]*Tracker, len(trackers)),
		ttl:      opts.TTL,
	}
	for _, cfg := range trackers {
		if cfg.Name == "" || strings.ContainsAny(cfg.Name, "/?#") {
			return nil, fmt.Errorf("invalid tracker name %q", cfg.Name)
		}
		if _, dup := r.trackers[cfg.Name]; dup {
			return nil, fmt.Errorf("tracker %q defined twice", cfg.Name)
		}
		store := factory(cfg, storage.Options{
			Predicate:     cfg.Predicate(),
			Delivery:      cfg.Delivery,
			TTL:           opts.TTL,
			SweepInterval: opts.LazySweepInterval,
			Clock:         opts.Clock,
		})
		r.trackers[cfg.Name] = &Tracker{Config: cfg, Store: store}
		r.names = append(r.names, cfg.Name)

		logger.Debug().
			Str("tracker", cfg.Name).
			Strs("required_kinds", kindStrings(cfg)).
			Str("delivery", cfg.Delivery.String()).
			Msg("tracker registered")
	}
	return r, nil
}

func kindStrings(cfg TrackerConfig) []string {
	out := make([]string, len(cfg.RequiredKinds))
	for i, k := range cfg.RequiredKinds {
		out[i] = string(k)
	}
	return out
}

// Get returns the tracker registered under name.
func (r *Registry) Get(name string) (*Tracker, bool) {
	t, ok := r.trackers[name]
	return t, ok
}

// Names returns tracker names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// StartSweepers runs a background Sweeper per tracker. interval <= 0 leaves
// expiry to the lazy sweep done on reads.
func (r *Registry) StartSweepers(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for _, name := range r.names {
		s := storage.NewSweeper(name, r.trackers[name].Store, r.ttl, interval)
		s.Start(ctx)
		r.sweepers = append(r.sweepers, s)
	}
}

// Ping checks every store.
func (r *Registry) Ping(ctx context.Context) error {
	for _, name := range r.names {
		if err := r.trackers[name].Store.Ping(ctx); err != nil {
			return fmt.Errorf("tracker %s: %w", name, err)
		}
	}
	return nil
}

// Close stops sweepers and closes every store.
func (r *Registry) Close() error {
	for _, s := range r.sweepers {
		s.Stop()
	}
	var errs []error
	for _, name := range r.names {
		if err := r.trackers[name].Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSessionID returns a random, unguessable session id.
func NewSessionID() string {
	return uuid.NewString()
}

// CallbackURL is where the external workflow posts fragments for tracker.
func CallbackURL(baseURL, tracker string) string {
	return strings.TrimRight(baseURL, "/") + "/api/" + url.PathEscape(tracker) + "/callback"
}

// ResponseURL is the poll endpoint for tracker.
func ResponseURL(baseURL, tracker string) string {
	return strings.TrimRight(baseURL, "/") + "/api/" + url.PathEscape(tracker) + "/response"
}
