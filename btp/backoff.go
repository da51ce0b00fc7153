package btp

import (
	"math/rand"
	"time"
)

// Backoff implements the exponential-with-jitter reconnect schedule from
// §4.B: delay_n = min(base * 2^n, cap), less up to 20% jitter, so the
// returned delay never exceeds cap.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int // 0 means unlimited
}

// DefaultBackoff matches the spec's stated defaults: base 1s, cap 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 0}
}

// Delay returns the wait duration before reconnect attempt n (0-indexed).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}

	jitter := time.Duration(rand.Int63n(int64(d) / 5)) // up to 20%
	return d - jitter
}

// Exhausted reports whether attempt n has exceeded MaxAttempts.
func (b Backoff) Exhausted(n int) bool {
	return b.MaxAttempts > 0 && n >= b.MaxAttempts
}
