package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrBlocked is wrapped by dispatch errors for requests refused while the
// quota is exhausted.
var ErrBlocked = errors.New("rate limit quota exhausted")

// DefaultThrottleDelay is how long a request waits in the warning state.
const DefaultThrottleDelay = 1 * time.Second

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrpc_rate_limit_remaining",
		Help: "Number of requests remaining in the current rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to an exhausted quota",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpc_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to a low quota",
	})
)

// Tracker monitors XRPC rate limits and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the wait applied in the warning state.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	pipe := t.redis.Pipeline()
	remainingCmd := pipe.Get(ctx, RedisKeyRemaining)
	limitCmd := pipe.Get(ctx, RedisKeyLimit)
	resetCmd := pipe.Get(ctx, RedisKeyResetTimestamp)
	policyCmd := pipe.Get(ctx, RedisKeyPolicy)
	lastUpdateCmd := pipe.Get(ctx, RedisKeyLastUpdate)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read rate limit state: %w", err)
	}

	remaining, err := remainingCmd.Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &State{
			Remaining:  DefaultRemaining,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	state := &State{Remaining: remaining}

	if limit, err := limitCmd.Int(); err == nil {
		state.Limit = limit
	}
	if reset, err := resetCmd.Int64(); err == nil {
		state.ResetAt = time.Unix(reset, 0)
	}
	if policy, err := policyCmd.Result(); err == nil {
		state.Policy = policy
	}
	if lastUpdate, err := lastUpdateCmd.Int64(); err == nil {
		state.LastUpdate = time.UnixMilli(lastUpdate)
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the RateLimit-* headers and updates Redis state.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse RateLimit-Remaining header: %w", err)
	}

	resetStr := headers.Get("RateLimit-Reset")
	if resetStr == "" {
		return fmt.Errorf("RateLimit-Reset header missing")
	}

	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse RateLimit-Reset header: %w", err)
	}

	limit := 0
	if limitStr := headers.Get("RateLimit-Limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse RateLimit-Limit header: %w", err)
		}
	}

	now := time.Now()
	state := &State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(resetUnix, 0),
		Policy:     headers.Get("RateLimit-Policy"),
		LastUpdate: now,
	}
	state.UpdateHealth()

	// Keys expire with the window so a reset quota needs no cleanup.
	ttl := state.TimeUntilReset() + time.Minute

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, remain, ttl)
	pipe.Set(ctx, RedisKeyLimit, limit, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, resetUnix, ttl)
	pipe.Set(ctx, RedisKeyPolicy, state.Policy, ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Int("limit", limit).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current rate limit state.
// Returns false if the request should be blocked due to an exhausted quota.
// Returns true after waiting the throttle delay in the warning state; the
// wait ends early with ctx's error if ctx is done.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.throttleDelay > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
