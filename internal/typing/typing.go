// Package typing aggregates TypingStart events into the indicator state a
// chat view renders. Entries age out on a periodic tick owned by the
// caller (the reference client ticks every 250ms).
package typing

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// TTL is how long a typing entry stays alive without a refresh.
	TTL = 3000 * time.Millisecond
	// TickInterval is the cadence the indicator is expected to tick at.
	TickInterval = 250 * time.Millisecond
	// SendThrottle is the minimum gap between typing notifications a
	// client emits while its input is non-empty.
	SendThrottle = 2000 * time.Millisecond

	maxNamedUsers = 3
	maxDots       = 3
)

// Snapshot is what one tick of the aggregator tells the view to render.
type Snapshot struct {
	// Active is false when nobody is typing and the indicator hides.
	Active bool
	// Label is the rendered summary, e.g. "alice and bob are typing".
	Label string
	// Dots is the animated ellipsis suffix, cycling from "" to "...".
	Dots string
}

// Aggregator tracks who is typing. Safe for concurrent use; events arrive
// from the dispatch reader while ticks come from a timer goroutine.
type Aggregator struct {
	clock clock.Clock
	self  string

	mu      sync.Mutex
	started map[string]time.Time
	dots    int
}

// NewAggregator creates an aggregator. Events for self are ignored so a
// user never sees their own typing indicator.
func NewAggregator(clk clock.Clock, self string) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		clock:   clk,
		self:    self,
		started: make(map[string]time.Time),
	}
}

// Observe records or refreshes a TypingStart for the username. Repeated
// events reset the entry's clock instead of duplicating it.
func (a *Aggregator) Observe(username string) {
	if username == a.self {
		return
	}
	a.mu.Lock()
	a.started[username] = a.clock.Now()
	a.mu.Unlock()
}

// Clear removes a user's entry. Called when their message arrives, since a
// delivered message ends the typing state early.
func (a *Aggregator) Clear(username string) {
	a.mu.Lock()
	delete(a.started, username)
	a.mu.Unlock()
}

// Tick expires stale entries, advances the ellipsis animation and returns
// the state to render.
func (a *Aggregator) Tick() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	for username, startedAt := range a.started {
		if now.Sub(startedAt) > TTL {
			delete(a.started, username)
		}
	}

	if a.dots == maxDots {
		a.dots = 0
	} else {
		a.dots++
	}

	if len(a.started) == 0 {
		return Snapshot{}
	}

	return Snapshot{
		Active: true,
		Label:  label(a.names()),
		Dots:   strings.Repeat(".", a.dots),
	}
}

func (a *Aggregator) names() []string {
	names := make([]string, 0, len(a.started))
	for username := range a.started {
		names = append(names, username)
	}
	sort.Strings(names)
	return names
}

func label(names []string) string {
	switch len(names) {
	case 1:
		return names[0] + " is typing"
	case 2:
		return names[0] + " and " + names[1] + " are typing"
	case 3:
		return names[0] + ", " + names[1] + " and " + names[2] + " are typing"
	default:
		return strconv.Itoa(len(names)) + " people are typing"
	}
}

// Throttle limits how often the sending side emits typing notifications.
type Throttle struct {
	clock  clock.Clock
	mu     sync.Mutex
	lastAt time.Time
}

// NewThrottle creates a send-side throttle.
func NewThrottle(clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.New()
	}
	return &Throttle{clock: clk}
}

// ShouldSend reports whether a typing notification may go out now, and
// marks the send time when it may.
func (t *Throttle) ShouldSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if !t.lastAt.IsZero() && now.Sub(t.lastAt) < SendThrottle {
		return false
	}
	t.lastAt = now
	return true
}
