package ratelimit

import (
	"sync"
	"time"
)

// State is a snapshot of a window's remaining capacity.
// Remaining is -1 when the window is unlimited.
type State struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

// Exhausted reports whether no request may be admitted before ResetAt.
func (s State) Exhausted() bool {
	return s.Limit > 0 && s.Remaining <= 0
}

// Window is a fixed-window request counter safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	limit int
	per   time.Duration
	count int
	until time.Time
	now   func() time.Time
}

// NewWindow admits limit requests per period; limit <= 0 disables limiting.
func NewWindow(limit int, per time.Duration) *Window {
	if per <= 0 {
		per = time.Minute
	}
	return &Window{limit: limit, per: per, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

// Allow consumes one slot if available.
func (w *Window) Allow() bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.rollLocked(now)
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// Block marks the window exhausted until the given time, e.g. after a remote 429.
func (w *Window) Block(until time.Time) {
	if w.limit <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked(w.now())
	w.count = w.limit
	if until.After(w.until) {
		w.until = until
	}
}

// State reports remaining capacity without consuming it.
func (w *Window) State() State {
	if w.limit <= 0 {
		return State{Limit: 0, Remaining: -1}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.rollLocked(now)
	st := State{Limit: w.limit, Remaining: w.limit - w.count}
	if w.count > 0 {
		st.ResetAt = w.until
	}
	return st
}

func (w *Window) rollLocked(now time.Time) {
	if w.until.IsZero() || !now.Before(w.until) {
		w.count = 0
		w.until = now.Add(w.per)
	}
}
