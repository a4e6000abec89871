// Package ratelimit gates message submission per user with a sliding
// window plus a punitive cooldown.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
)

const (
	// Burst is the number of sends inside Window that triggers a cooldown.
	Burst = 6
	// Window is the span a burst is measured against.
	Window = 3000 * time.Millisecond
	// Cooldown is how long a user is locked out after a burst violation.
	Cooldown = 5000 * time.Millisecond
)

// Limiter tracks per-user send timestamps in process memory. State is not
// shared across instances; a multi-instance deployment would need an
// external coordinator.
type Limiter struct {
	clock clock.Clock

	mu      sync.Mutex
	windows map[snowflake.ID][]time.Time
	until   map[snowflake.ID]time.Time
}

// NewLimiter creates a limiter driven by the given clock.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		clock:   clk,
		windows: make(map[snowflake.ID][]time.Time),
		until:   make(map[snowflake.ID]time.Time),
	}
}

// Allow records an attempted send for the user and reports whether it may
// proceed. When rejected, the returned time is when the cooldown expires.
//
// A user who gets Burst sends within Window has their window cleared and a
// cooldown applied; while the cooldown is active every attempt returns the
// same expiry without touching the window.
func (l *Limiter) Allow(userID snowflake.ID) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	if until, ok := l.until[userID]; ok {
		if now.Before(until) {
			return false, until
		}
		delete(l.until, userID)
	}

	window := append(l.windows[userID], now)
	l.windows[userID] = window

	if len(window) == Burst {
		if window[len(window)-1].Sub(window[0]) < Window {
			l.windows[userID] = nil
			until := now.Add(Cooldown)
			l.until[userID] = until
			return false, until
		}
		// Slide: drop the oldest entry, leaving room for one more send
		// before the next check.
		l.windows[userID] = window[1:]
	}

	return true, time.Time{}
}

// Reset drops all state for a user. Used when an account is removed.
func (l *Limiter) Reset(userID snowflake.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, userID)
	delete(l.until, userID)
}
