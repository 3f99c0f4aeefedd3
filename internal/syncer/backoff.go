package syncer

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
	DefaultJitter      = 500 * time.Millisecond

	// maxAttempt keeps the shift in Delay well inside int64 range.
	maxAttempt = 16
)

// Backoff computes reconnect delays: Base doubled per failed attempt, capped
// at Cap, plus uniform jitter in [0, Jitter).
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	mu      sync.Mutex
	attempt int
	jitter  func(time.Duration) time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{Base: DefaultBackoffBase, Cap: DefaultBackoffCap, Jitter: DefaultJitter}
}

// Delay is the deterministic part of the wait for the given attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxAttempt {
		attempt = maxAttempt
	}
	d := b.Base << attempt
	if d > b.Cap || d <= 0 {
		return b.Cap
	}
	return d
}

// Next returns the wait before the next dial and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.Delay(b.attempt) + b.randJitter()
	if b.attempt < maxAttempt {
		b.attempt++
	}
	return d
}

// Reset is called after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func (b *Backoff) randJitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	if b.jitter != nil {
		return b.jitter(b.Jitter)
	}
	return time.Duration(rand.Int63n(int64(b.Jitter)))
}
