// Package ratelimit keeps per-client token buckets and resolves which client
// a request comes from.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTimeout is how long a key may go unused before its bucket is dropped.
const DefaultIdleTimeout = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store hands out one token bucket per key. Buckets idle for longer than the
// idle timeout are swept on a later Allow; a swept key starts over with a
// full bucket.
type Store struct {
	rate  rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

func NewStore(r rate.Limit, burst int, idle time.Duration) *Store {
	return newStore(r, burst, idle, time.Now)
}

func newStore(r rate.Limit, burst int, idle time.Duration, now func() time.Time) *Store {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Store{
		rate:      r,
		burst:     burst,
		idle:      idle,
		now:       now,
		entries:   make(map[string]*entry),
		lastSweep: now(),
	}
}

// Allow takes one token from key's bucket.
func (s *Store) Allow(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.idle {
		s.sweepLocked(now)
	}
	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (s *Store) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) >= s.idle {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
