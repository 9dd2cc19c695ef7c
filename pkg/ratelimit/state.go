// Package ratelimit implements catalog rate limit tracking and request gating.
// It monitors the X-RateLimit-Remaining, X-RateLimit-Reset and Retry-After
// headers so the client backs off before the catalog starts rejecting requests.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "catalog:rate_limit:remaining"
	RedisKeyResetTimestamp = "catalog:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "catalog:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdCritical blocks requests until the window resets when the
	// remaining request budget falls below this value.
	RemainingThresholdCritical = 2

	// RemainingThresholdWarning applies throttling when the remaining budget
	// falls below this value.
	RemainingThresholdWarning = 10

	// RemainingThresholdHealthy indicates normal operation.
	RemainingThresholdHealthy = 25

	// DefaultRemaining is assumed until the first response carries headers.
	DefaultRemaining = 100
)

// RateLimitState represents the current catalog rate limit state.
// With Redis configured it is shared across all client instances.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	// Extracted from the X-RateLimit-Remaining header, or 0 after a Retry-After.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is the optimistic state used before any headers were seen and
// after a window has reset.
func defaultState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Remaining:  DefaultRemaining,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should wait for the reset.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// HasReset reports whether the window recorded in the state is over.
func (s *RateLimitState) HasReset() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdHealthy
}
