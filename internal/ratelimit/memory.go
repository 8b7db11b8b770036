package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimit  = 60
	defaultWindow = time.Minute
)

// Window is a token bucket for a single caller, such as one websocket
// connection. It admits a burst of limit events and refills one token every
// window/limit.
type Window struct {
	lim    *rate.Limiter
	limit  int
	window time.Duration
}

// NewWindow falls back to sane defaults when limit or window are not positive.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Window{
		lim:    rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at now is permitted and consumes a token if so.
func (w *Window) Allow(now time.Time) Decision {
	r := w.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, Count: w.limit, RetryAfter: w.window}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		// Hand the token back: a refused event must not push later ones out.
		r.CancelAt(now)
		return Decision{Allowed: false, Count: w.limit, RetryAfter: delay}
	}
	return Decision{Allowed: true, Count: w.used(now)}
}

// used is the number of tokens currently spent.
func (w *Window) used(now time.Time) int {
	left := int(w.lim.TokensAt(now))
	return max(w.limit-left, 0)
}

// idle reports whether the bucket has refilled completely.
func (w *Window) idle(now time.Time) bool {
	return w.lim.TokensAt(now) >= float64(w.limit)
}

// Memory keeps one Window per key inside the process.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*Window
	limit   int
	window  time.Duration
	now     func() time.Time
	calls   int
}

func NewMemory(limit int, window time.Duration) *Memory {
	w := NewWindow(limit, window)
	return &Memory{
		windows: make(map[string]*Window),
		limit:   w.limit,
		window:  w.window,
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) Decision {
	now := m.now()

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		w = NewWindow(m.limit, m.window)
		m.windows[key] = w
	}
	m.calls++
	if m.calls%1024 == 0 {
		m.sweep(now)
	}
	m.mu.Unlock()

	return w.Allow(now)
}

// sweep drops windows whose bucket is full again. Caller holds m.mu.
func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if w.idle(now) {
			delete(m.windows, key)
		}
	}
}

func (m *Memory) Close() error { return nil }
