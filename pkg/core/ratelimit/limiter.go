// Package ratelimit implements sliding-window admission control for the
// write path, keyed by (client ip, url) so one hot URL cannot exhaust
// another's budget. State is process-local and resets on restart; it is not
// shared across store backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits up to threshold requests per key within a sliding window.
// The zero value is not usable; construct with New. A Limiter never blocks
// or queues: rejection is immediate.
type Limiter struct {
	window    time.Duration
	threshold int

	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

func New(window time.Duration, threshold int) *Limiter {
	return &Limiter{
		window:    window,
		threshold: threshold,
		history:   make(map[string][]time.Time),
		now:       time.Now,
	}
}

// NewWithClock is New with an injectable clock, for tests.
func NewWithClock(window time.Duration, threshold int, now func() time.Time) *Limiter {
	l := New(window, threshold)
	l.now = now
	return l
}

// Allow purges attempts older than the window for the (ip, url) key, then
// admits iff the remaining count is below the threshold, recording the new
// attempt on admission.
func (l *Limiter) Allow(ip, url string) bool {
	key := ip + ":" + url
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.history[key][:0]
	for _, t := range l.history[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.threshold {
		l.history[key] = kept
		return false
	}

	l.history[key] = append(kept, now)
	return true
}

// PurgeEvery sweeps stale keys on the given interval until ctx is
// cancelled. Without it, history grows by one entry per distinct (ip, url)
// pair seen over the process lifetime.
func (l *Limiter) PurgeEvery(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Purge()
		}
	}
}

// Purge drops keys whose every attempt has aged out of the window.
func (l *Limiter) Purge() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, attempts := range l.history {
		stale := true
		for _, t := range attempts {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.history, key)
		}
	}
}
