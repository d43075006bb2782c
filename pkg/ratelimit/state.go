// Package ratelimit implements XRPC rate limit tracking and request gating.
// It monitors the RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset
// headers and shares the observed state through Redis, so every process
// talking to the same service backs off together.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "xrpc:rate_limit:remaining"
	RedisKeyLimit          = "xrpc:rate_limit:limit"
	RedisKeyResetTimestamp = "xrpc:rate_limit:reset_timestamp"
	RedisKeyPolicy         = "xrpc:rate_limit:policy"
	RedisKeyLastUpdate     = "xrpc:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when the remaining quota falls below this value.
	ThresholdCritical = 5

	// ThresholdWarning applies throttling when the remaining quota falls below this value.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 50

	// DefaultRemaining is assumed until the service reports a quota.
	DefaultRemaining = 3000
)

// State represents the current rate limit state.
// This state is shared across all client instances via Redis.
type State struct {
	// Limit is the size of the quota window (RateLimit-Limit).
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window (RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (RateLimit-Reset, unix seconds).
	ResetAt time.Time `json:"reset_at"`

	// Policy is the raw RateLimit-Policy header, e.g. "3000;w=300".
	Policy string `json:"policy,omitempty"`

	// LastUpdate is the timestamp when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked. A window
// that has already reset never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be throttled due to warning threshold.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
