package jobstore

import (
	"sync"
	"time"
)

// TokenBucket is the JobStore's shared, in-process admission control
// for Portal traffic (spec §4.2, §9 design note): a monotonic token
// count refilled lazily on every Allow call, never a timer. All three
// lanes draw from one bucket; nothing reserves tokens for a lane.
type TokenBucket struct {
	mu         sync.Mutex
	max        float64
	windowSecs float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket builds a bucket that allows up to max operations per
// window, starting full.
func NewTokenBucket(max int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		max:        float64(max),
		windowSecs: window.Seconds(),
		tokens:     float64(max),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	refillRate := b.max / b.windowSecs
	b.tokens = min(b.max, b.tokens+elapsed*refillRate)
	b.lastRefill = now
}

// Allow refills the bucket for elapsed time, then consumes one token
// if available, reporting whether it did.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Refund returns one token to the bucket, for a caller that consumed
// one via Allow but then found no work to spend it on — otherwise an
// idle JobStore's ~50ms re-poll loop would burn its whole budget on
// polling alone before the first real Portal request ever happens.
func (b *TokenBucket) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = min(b.max, b.tokens+1)
}

// WaitDuration returns how long a caller should sleep before the next
// token is likely to be available, per spec §9: `(1 - tokens) /
// refillRate`. It does not consume a token.
func (b *TokenBucket) WaitDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1 {
		return 0
	}
	refillRate := b.max / b.windowSecs
	if refillRate <= 0 {
		return b.windowDuration()
	}
	secs := (1 - b.tokens) / refillRate
	return time.Duration(secs * float64(time.Second))
}

func (b *TokenBucket) windowDuration() time.Duration {
	return time.Duration(b.windowSecs * float64(time.Second))
}
