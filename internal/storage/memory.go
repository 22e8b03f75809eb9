package storage

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"workflow_tracker/internal/fragment"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type record struct {
	fragments fragment.Set
	updated   time.Time
}

type shard struct {
	mu      sync.Mutex
	records map[string]*record
}

// MemoryStore keeps sessions in process memory. Sessions are spread over
// independently locked shards, so callers working on different sessions
// rarely wait on each other.
//
// State does not survive a restart and is not shared between processes: a
// callback that lands on another instance is lost. Use RedisStore when more
// than one instance serves the same tracker.
type MemoryStore struct {
	shards [shardCount]shard
	opts   Options

	lastSweep atomic.Int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	m := &MemoryStore{opts: opts.withDefaults()}
	for i := range m.shards {
		m.shards[i].records = make(map[string]*record)
	}
	m.lastSweep.Store(m.opts.Clock().UnixNano())
	return m
}

func (m *MemoryStore) shardFor(sessionID string) *shard {
	return &m.shards[xxhash.Sum64String(sessionID)%shardCount]
}

func (m *MemoryStore) stale(rec *record, now time.Time, ttl time.Duration) bool {
	return now.Sub(rec.updated) > ttl
}

// Merge sets fragments[kind] = payload, creating the session if needed.
func (m *MemoryStore) Merge(_ context.Context, sessionID string, kind fragment.Kind, payload []byte) error {
	if err := checkMerge(sessionID, kind); err != nil {
		return err
	}
	data := append(json.RawMessage(nil), payload...)
	now := m.opts.Clock()

	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[sessionID]
	if !ok || m.stale(rec, now, m.opts.TTL) {
		rec = &record{fragments: make(fragment.Set)}
		sh.records[sessionID] = rec
	}
	rec.fragments[kind] = data
	rec.updated = now
	return nil
}

// Status evaluates the completion predicate against the held kinds.
func (m *MemoryStore) Status(ctx context.Context, sessionID string) (Status, error) {
	if sessionID == "" {
		return Status{}, ErrMissingSessionID
	}
	now := m.opts.Clock()
	m.maybeSweep(ctx, now)

	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[sessionID]
	if !ok {
		return Status{State: StateNotFound}, nil
	}
	if m.stale(rec, now, m.opts.TTL) {
		delete(sh.records, sessionID)
		return Status{State: StateNotFound}, nil
	}

	held := rec.fragments.Kinds()
	if !m.opts.Predicate(held) {
		return Status{State: StatePartial, Held: held}, nil
	}

	st := Status{State: StateComplete, Held: held, Payload: rec.fragments.Clone()}
	if m.opts.Delivery == DeliverOnce {
		delete(sh.records, sessionID)
	}
	return st, nil
}

// maybeSweep runs ExpireStale at most once per SweepInterval. Only the
// caller that wins the CAS sweeps; everyone else carries on.
func (m *MemoryStore) maybeSweep(ctx context.Context, now time.Time) {
	every := m.opts.SweepInterval
	if every <= 0 {
		return
	}
	last := m.lastSweep.Load()
	if now.UnixNano()-last < int64(every) {
		return
	}
	if !m.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	_, _ = m.ExpireStale(ctx, now, m.opts.TTL)
}

// ExpireStale locks one shard at a time, so merges into other shards proceed
// while a sweep is running.
func (m *MemoryStore) ExpireStale(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	removed := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if m.stale(rec, now, ttl) {
				delete(sh.records, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Delete removes the session regardless of its state.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSessionID
	}
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.records[sessionID]
	delete(sh.records, sessionID)
	return ok, nil
}

// Len returns the number of sessions held, stale ones included.
func (m *MemoryStore) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
