package http

import (
	"sync"
	"time"
)

// rateLimiter allows limit events per fixed window. A limit <= 0 disables it.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counter int
	start   time.Time
	now     func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, window: time.Minute, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}

// userLimiters keeps one limiter per user for the REST endpoints.
type userLimiters struct {
	mu       sync.Mutex
	limit    int
	limiters map[string]*rateLimiter
}

func newUserLimiters(limit int) *userLimiters {
	return &userLimiters{limit: limit, limiters: make(map[string]*rateLimiter)}
}

func (u *userLimiters) allow(userID string) bool {
	if u.limit <= 0 {
		return true
	}
	u.mu.Lock()
	l, ok := u.limiters[userID]
	if !ok {
		l = newRateLimiter(u.limit)
		u.limiters[userID] = l
	}
	u.mu.Unlock()
	return l.allow()
}
