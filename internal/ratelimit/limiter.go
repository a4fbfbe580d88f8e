// Package ratelimit limits how often each client may call the chat endpoint.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequests = 20
	DefaultWindow   = time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows each key a burst of Requests calls, refilled evenly over
// Window. Keys idle for a full window are forgotten; by then their bucket
// is full again, so forgetting them changes nothing.
type Limiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	clients   map[string]*entry
	lastSweep time.Time
}

// New returns a limiter allowing requests per window per key. Non-positive
// arguments fall back to the defaults.
func New(requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = DefaultRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		requests: requests,
		window:   window,
		now:      time.Now,
		clients:  make(map[string]*entry),
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow reports whether key may make another request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.clients[key]
	if !ok {
		every := l.window / time.Duration(l.requests)
		e = &entry{limiter: rate.NewLimiter(rate.Every(every), l.requests)}
		l.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for k, e := range l.clients {
		if now.Sub(e.lastSeen) >= l.window {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}
