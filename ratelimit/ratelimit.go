// Package ratelimit implements the per-peer token bucket from §4.E step
// 2, built atop golang.org/x/time/rate the way the rest of this module
// leans on well-known ecosystem libraries rather than a hand-rolled
// bucket.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PauseController lets another subsystem (fraud.Detector) force a
// peer's limiter into an exhausted state without owning the limiter
// itself, per the Design Notes' call for a narrow interface there.
type PauseController interface {
	Exhaust(peerID string)
	Release(peerID string)
}

// Limiter holds one token bucket per peer.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	paused  map[string]bool
}

// New constructs a Limiter allowing rps requests per second per peer,
// with burst capacity burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
		paused:  make(map[string]bool),
	}
}

func (l *Limiter) bucketFor(peerID string) *rate.Limiter {
	b, ok := l.buckets[peerID]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[peerID] = b
	}
	return b
}

// Allow reports whether peerID may send another packet right now. A
// peer forced into exhaustion via Exhaust always returns false
// regardless of its bucket's token count.
func (l *Limiter) Allow(peerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused[peerID] {
		return false
	}
	return l.bucketFor(peerID).Allow()
}

// Exhaust forces peerID's limiter to deny all requests until Release is
// called, per §4.F's fraud-detection pause flow.
func (l *Limiter) Exhaust(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused[peerID] = true
}

// Release clears a prior Exhaust, restoring normal token-bucket
// behavior.
func (l *Limiter) Release(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.paused, peerID)
}
