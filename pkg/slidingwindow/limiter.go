// Package slidingwindow implements per-key admission control over a trailing
// time window. Each key owns an ordered list of hit timestamps that is pruned
// on every access, so state never outlives the window it describes.
package slidingwindow

import (
	"context"
	"sync"
	"time"
)

// Limiter tracks hits per key and admits at most Max of them inside any
// trailing Window. It is safe for concurrent use.
type Limiter struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New creates a Limiter admitting max hits per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Max returns the configured admission limit.
func (l *Limiter) Max() int {
	return l.max
}

// Allow checks whether key may proceed now. When the key is already at the
// limit the hit is NOT recorded and ok is false; otherwise the hit is
// recorded. remaining is the number of additional hits the key can make and
// resetAt is when the oldest recorded hit leaves the window.
func (l *Limiter) Allow(key string) (remaining int, resetAt time.Time, ok bool) {
	return l.allowAt(key, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) (int, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key, now)
	if len(kept) >= l.max {
		return 0, kept[0].Add(l.window), false
	}

	kept = append(kept, now)
	l.hits[key] = kept

	return l.max - len(kept), kept[0].Add(l.window), true
}

// AtLimit reports whether key has already used up its window without
// recording a hit. Used to refuse work (e.g. a password hash comparison)
// before attempting it.
func (l *Limiter) AtLimit(key string) bool {
	return l.atLimitAt(key, time.Now())
}

func (l *Limiter) atLimitAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.prune(key, now)) >= l.max
}

// Record unconditionally stores a hit for key, even past the limit, and
// returns the number of hits now inside the window. Callers racing past
// AtLimit can detect overshoot from the returned count.
func (l *Limiter) Record(key string) int {
	return l.recordAt(key, time.Now())
}

func (l *Limiter) recordAt(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := append(l.prune(key, now), now)
	l.hits[key] = kept
	return len(kept)
}

// Reset discards all recorded hits for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.hits, key)
}

// prune drops timestamps that have left the trailing window. The caller must
// hold l.mu. An emptied key is removed from the map so idle keys do not
// accumulate.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	hits := l.hits[key]
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= l.window {
		i++
	}
	if i == 0 {
		return hits
	}
	kept := hits[i:]
	if len(kept) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = kept
	return kept
}

// cleanup removes keys whose every hit has expired.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, hits := range l.hits {
		if len(hits) == 0 || now.Sub(hits[len(hits)-1]) >= l.window {
			delete(l.hits, key)
		}
	}
}

// StartCleanup launches a background goroutine that periodically evicts idle
// keys. It stops when ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context) {
	interval := 2 * l.window
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.cleanup(now)
			}
		}
	}()
}
