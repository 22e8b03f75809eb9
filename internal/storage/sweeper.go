package storage

import (
	"context"
	"sync"
	"time"

	"workflow_tracker/internal/logger"
)

// Sweeper periodically expires stale sessions in a Store. It complements the
// lazy expiry stores already apply on read.
type Sweeper struct {
	name     string
	store    Store
	ttl      time.Duration
	interval time.Duration
	clock    func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper; call Start to run it.
func NewSweeper(name string, store Store, ttl, interval time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sweeper{
		name:     name,
		store:    store,
		ttl:      ttl,
		interval: interval,
		clock:    time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately. A non-positive
// interval leaves the sweeper idle.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass and logs what it removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.store.ExpireStale(ctx, s.clock(), s.ttl)
	if err != nil {
		logger.Warn().Err(err).Str("tracker", s.name).Msg("session sweep failed")
		return removed
	}
	if removed > 0 {
		logger.Debug().Str("tracker", s.name).Int("removed", removed).Msg("expired stale sessions")
	}
	return removed
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
	})
	<-s.done
}
