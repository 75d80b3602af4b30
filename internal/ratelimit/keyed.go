package ratelimit

import (
	"sync"
	"time"
)

// Keyed keeps one Window per key, e.g. per client IP.
type Keyed struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	windows map[string]*Window
	now     func() time.Time
}

// NewKeyed builds a Keyed limiter admitting limit requests per key per period.
func NewKeyed(limit int, per time.Duration) *Keyed {
	return &Keyed{limit: limit, per: per, windows: make(map[string]*Window), now: time.Now}
}

// Allow consumes one slot for key.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	w, ok := k.windows[key]
	if !ok {
		w = NewWindow(k.limit, k.per).WithClock(k.now)
		k.windows[key] = w
	}
	if len(k.windows) > 4096 {
		k.pruneLocked()
	}
	k.mu.Unlock()
	return w.Allow()
}

func (k *Keyed) pruneLocked() {
	now := k.now()
	for key, w := range k.windows {
		if st := w.State(); st.ResetAt.IsZero() || now.After(st.ResetAt) {
			delete(k.windows, key)
		}
	}
}
