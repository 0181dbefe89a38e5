// Package session keeps server-held conversation state keyed by session id.
//
// Turns for the same session are serialized: Acquire hands out the state
// under an exclusive per-session lock that a waiting caller can abandon by
// canceling its context. Idle sessions are swept after a TTL.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultIdleTTL is how long an unused session is kept.
const DefaultIdleTTL = time.Hour

// ErrInvalidID indicates an empty or oversized session id.
var ErrInvalidID = errors.New("session id must be 1 to 128 characters")

const maxIDLength = 128

// State is the conversation held for one session. It is only touched by the
// holder of the session lock.
type State struct {
	ID           string
	History      []llm.Message
	Summary      *reading.Summary
	ActiveSpread *reading.ActiveSpread
	Ledger       []reading.LedgerEntry
}

type entry struct {
	lock     *semaphore.Weighted
	state    *State
	lastUsed time.Time
}

// Registry is the in-memory session store.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry builds a registry whose sessions expire after ttl of
// inactivity.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	r := &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire locks the session, creating it on first use, and returns its state
// with a release function. The state must not be used after release.
func (r *Registry) Acquire(ctx context.Context, id string) (*State, func(), error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLength {
		return nil, nil, ErrInvalidID
	}
	for {
		e := r.entry(id)
		if err := e.lock.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}

		r.mu.Lock()
		current := r.sessions[id]
		r.mu.Unlock()
		if current != e {
			// Swept while waiting; retry against the new entry.
			e.lock.Release(1)
			continue
		}

		var once sync.Once
		release := func() {
			once.Do(func() {
				r.mu.Lock()
				e.lastUsed = r.now()
				r.mu.Unlock()
				e.lock.Release(1)
			})
		}
		return e.state, release, nil
	}
}

func (r *Registry) entry(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		e = &entry{
			lock:     semaphore.NewWeighted(1),
			state:    &State{ID: id},
			lastUsed: r.now(),
		}
		r.sessions[id] = e
	}
	return e
}

// Sweep removes sessions idle for longer than the TTL. Sessions currently
// locked are never removed. It returns the number removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, e := range r.sessions {
		if !e.lastUsed.Before(cutoff) {
			continue
		}
		if !e.lock.TryAcquire(1) {
			continue
		}
		delete(r.sessions, id)
		e.lock.Release(1)
		removed++
	}
	return removed
}

// RunSweeper sweeps on every interval tick until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("swept idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
