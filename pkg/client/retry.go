package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Prometheus metrics for retry operations.
var (
	xrpcRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrpc_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	xrpcRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xrpc_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	xrpcRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrpc_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the initial backoff duration. Zero selects the
	// per-class defaults of RetryConfigForErrorClass.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// NoRetry sends every request exactly once. This is the client default:
// failures surface to the caller unchanged.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// DefaultRetryConfig returns the recommended configuration when retries are
// enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the appropriate retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		// 5xx server errors - shorter backoff
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		// 429 - longer backoff
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		// Network errors - medium backoff
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// Validate rejects configurations that would never send a request.
func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1 (got %d)", r.MaxAttempts)
	}
	if r.BackoffMultiplier < 0 {
		return fmt.Errorf("retry backoff_multiplier must not be negative")
	}
	return nil
}

// backoff returns the wait before attempt+1 for errorClass.
func (r RetryConfig) backoff(errorClass ErrorClass, attempt int) time.Duration {
	cfg := r
	if cfg.InitialBackoff <= 0 {
		cfg = RetryConfigForErrorClass(errorClass)
	}
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	d := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}

// attemptFunc performs one attempt and classifies its failure.
type attemptFunc func() (ErrorClass, error)

// retryWithBackoff executes fn with exponential backoff retry logic.
// It respects context cancellation and adds jitter to prevent thundering herd.
// Only server, rate limit and network failures are retried.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, op string, logger zerolog.Logger, fn attemptFunc) error {
	maxAttempts := max(cfg.MaxAttempts, 1)

	var (
		lastErr   error
		lastClass ErrorClass
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		errorClass, err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("operation", op).
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr, lastClass = err, errorClass

		if ctx.Err() != nil || !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		xrpcRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		// Add jitter (±20% randomness)
		backoff := cfg.backoff(errorClass, attempt)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		xrpcRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("operation", op).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("operation", op).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return &xrpc.NetworkError{Operation: op, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if maxAttempts == 1 {
		return lastErr
	}

	xrpcRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("operation", op).
		Str("error_class", string(lastClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
