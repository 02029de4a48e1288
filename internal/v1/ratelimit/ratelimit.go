// Package ratelimit implements the per-client-key, per-action window
// counters gating room creation, room join, and message send.
//
// The window semantics are part of the observable contract: three
// independent counters share one windowStart per key, the whole window
// resets once it ages out, and the janitor garbage-collects windows older
// than twice the window length. The check always runs before any room-state
// side effect and before any validation that could leak room existence.
package ratelimit

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Action is one of the three rate-limited operations.
type Action string

const (
	ActionCreate  Action = "create"
	ActionJoin    Action = "join"
	ActionMessage Action = "message"
)

// Defaults per spec: one 60 s window, 5 creates, 20 joins, 60 messages.
const (
	Window        = 60 * time.Second
	CreateLimit   = 5
	JoinLimit     = 20
	MessageLimit  = 60
	sweepAgeRatio = 2
)

type window struct {
	start    time.Time
	creates  int
	joins    int
	messages int
}

// Limiter tracks one window per client key.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	window       time.Duration
	createLimit  int
	joinLimit    int
	messageLimit int

	clock clock.PassiveClock
}

// New returns a limiter with the default window and limits. clk may be a
// fake clock in tests; pass clock.RealClock{} in production.
func New(clk clock.PassiveClock) *Limiter {
	return &Limiter{
		windows:      make(map[string]*window),
		window:       Window,
		createLimit:  CreateLimit,
		joinLimit:    JoinLimit,
		messageLimit: MessageLimit,
		clock:        clk,
	}
}

// Allow admits or denies one action for the given client key. Admission
// increments the action's counter; denial has no side effect.
func (l *Limiter) Allow(key string, action Action) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) > l.window {
		w = &window{start: now}
		l.windows[key] = w
	}

	var count *int
	var limit int
	switch action {
	case ActionCreate:
		count, limit = &w.creates, l.createLimit
	case ActionJoin:
		count, limit = &w.joins, l.joinLimit
	case ActionMessage:
		count, limit = &w.messages, l.messageLimit
	default:
		return false
	}

	if *count >= limit {
		return false
	}
	*count++
	return true
}

// Sweep drops windows older than twice the window length and returns how
// many were removed. Called by the janitor.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > sweepAgeRatio*l.window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports how many client keys currently hold a window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
