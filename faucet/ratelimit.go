package faucet

import (
	"context"
	"fmt"
	"time"

	"tonfaucet/storage"
)

const rateKeyPrefix = "faucet:rl:"

// RateLimiter enforces a fixed-size per-recipient claim window. Windows are
// bucketed, not sliding: a window starts at a multiple of its size and every
// claim inside it counts against the same budget.
//
// The increment-and-compare rides on the backend's atomic Increment, so two
// concurrent claims for the same recipient can never both squeeze past the
// boundary. On store failure the limiter fails closed: under-issuing is the
// safe direction for monetary-equivalent tokens.
type RateLimiter struct {
	kv      storage.KV
	max     int64
	window  time.Duration
	metrics *Metrics
	now     func() time.Time
}

// NewRateLimiter builds a limiter allowing max claims per recipient per
// window.
func NewRateLimiter(kv storage.KV, max int64, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RateLimiter{
		kv:      kv,
		max:     max,
		window:  window,
		metrics: NewMetrics(),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (l *RateLimiter) SetClock(now func() time.Time) { l.now = now }

// WindowStart returns the start of the window containing t.
func (l *RateLimiter) WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(l.window)
}

// Window returns the configured window size.
func (l *RateLimiter) Window() time.Duration { return l.window }

// CheckAndConsume counts a claim attempt against the recipient's current
// window and reports whether it is allowed. A consumed slot is not refunded
// when the claim later fails downstream.
func (l *RateLimiter) CheckAndConsume(ctx context.Context, recipient string) (bool, error) {
	start := l.WindowStart(l.now())
	key := fmt.Sprintf("%s%s:%d", rateKeyPrefix, recipient, start.Unix())
	count, err := l.kv.Increment(ctx, key, l.window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count > l.max {
		l.metrics.RecordRateLimited()
		return false, nil
	}
	return true, nil
}
