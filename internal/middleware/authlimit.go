package middleware

import (
	"sync"
	"time"
)

const (
	authMaxFailures    = 5
	authWindowDuration = time.Minute
	authCleanupPeriod  = 5 * time.Minute
)

type authFailure struct {
	count       int
	windowStart time.Time
}

// AuthRateLimiter locks out an IP after repeated failed token checks so a
// leaked endpoint URL cannot be brute-forced. Successful requests are never
// counted.
type AuthRateLimiter struct {
	mu          sync.Mutex
	failures    map[string]*authFailure
	lastCleanup time.Time
}

func NewAuthRateLimiter() *AuthRateLimiter {
	return &AuthRateLimiter{
		failures:    make(map[string]*authFailure),
		lastCleanup: time.Now(),
	}
}

func (l *AuthRateLimiter) cleanup() {
	now := time.Now()
	if now.Sub(l.lastCleanup) < authCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, failure := range l.failures {
		if now.Sub(failure.windowStart) > authWindowDuration {
			delete(l.failures, ip)
		}
	}
}

// RecordFailure counts one failed authentication attempt from ip.
func (l *AuthRateLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup()

	now := time.Now()
	failure, exists := l.failures[ip]
	if !exists || now.Sub(failure.windowStart) > authWindowDuration {
		l.failures[ip] = &authFailure{count: 1, windowStart: now}
		return
	}
	failure.count++
}

// Blocked reports whether ip has exhausted its failure budget for the
// current window.
func (l *AuthRateLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup()

	failure, exists := l.failures[ip]
	if !exists {
		return false
	}
	if time.Since(failure.windowStart) > authWindowDuration {
		return false
	}
	return failure.count >= authMaxFailures
}
