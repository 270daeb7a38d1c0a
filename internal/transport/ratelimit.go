package transport

import (
	"sync"
	"time"
)

const (
	defaultWindow = time.Minute
	defaultMax    = 20
)

// Limiter is a per-user sliding-window rate limiter. It keeps the call
// instants inside the trailing window for each user id; a call at the cap is
// rejected without being recorded. State lives and dies with the process —
// this dampens abuse, it is not a hard quota across restarts or replicas.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	now    func() time.Time
	calls  map[string][]time.Time
}

type LimiterConfig struct {
	Window time.Duration
	Max    int
	Now    func() time.Time // injectable clock for tests
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		window: cfg.Window,
		max:    cfg.Max,
		now:    cfg.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records one call for userID, or returns ErrRateLimited when the
// trailing window is already at capacity. Check and record happen under one
// lock, so concurrent callers never race past each other.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.calls[userID][:0]
	for _, ts := range l.calls[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.max {
		l.calls[userID] = recent
		return ErrRateLimited
	}

	l.calls[userID] = append(recent, now)
	return nil
}
