package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker blocks engine calls after repeated failures so a down
// or rate-limited synthesis provider degrades turns immediately instead
// of making every session wait out a timeout. Rate limit errors open
// the breaker twice as fast as ordinary failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	score     int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. Once the cooldown elapses
// the breaker lets calls through again; a single failure during that
// probe window reopens it.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Before(c.openUntil) {
		return false
	}
	if !c.openUntil.IsZero() {
		c.openUntil = time.Time{}
		c.score = c.threshold - 1
	}
	return true
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.score = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if err == nil {
		return
	}
	weight := 1
	if IsRateLimit(err) {
		weight = 2
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.score += weight
	if c.score >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}

// RemainingCooldown returns how long until the breaker admits calls
// again, zero when it is closed.
func (c *CircuitBreaker) RemainingCooldown() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := time.Until(c.openUntil); d > 0 {
		return d
	}
	return 0
}
