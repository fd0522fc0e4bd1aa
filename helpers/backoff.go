package helpers

import (
	"math"
	"sync/atomic"
	"time"
)

// Backoff maps an attempt number to a retry delay:
// Delay(n) = Min * K^(n-1) capped at Max.
// Delay is pure; Next/Reset/Attempt keep the counter for callers
// that do not track attempts themselves.
type Backoff struct {
	attempt int32 // atomic

	Min time.Duration
	Max time.Duration
	K   float64       // growth factor, default=2
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Delay does not touch the attempt counter. Same input, same output.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Min <= 0 {
		return 0
	}
	k := b.K
	if k < 1 {
		k = 2
	}
	d := float64(b.Min) * math.Pow(k, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return b.round(time.Duration(d))
}

// Next increases the attempt counter and returns the delay before that attempt.
func (b *Backoff) Next() time.Duration {
	n := atomic.AddInt32(&b.attempt, 1)
	return b.Delay(int(n))
}

func (b *Backoff) Attempt() int { return int(atomic.LoadInt32(&b.attempt)) }

func (b *Backoff) Reset() { atomic.StoreInt32(&b.attempt, 0) }

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
