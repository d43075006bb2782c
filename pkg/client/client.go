// Package client provides the HTTP client that executes XRPC descriptors with
// rate limiting, caching, and error handling. It is the direct dispatch
// strategy; the worker package delegates to it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/cache"
	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/ratelimit"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Prometheus metrics for XRPC client operations.
var (
	xrpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrpc_requests_total",
		Help: "Total XRPC requests by operation and status",
	}, []string{"operation", "status"})

	xrpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xrpc_request_duration_seconds",
		Help:    "XRPC request duration in seconds by operation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	xrpcErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrpc_errors_total",
		Help: "Total XRPC errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the public entryway of the Bluesky network.
	DefaultBaseURL = "https://bsky.social"

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps response bodies.
	DefaultMaxBodyBytes = 10 << 20
)

// Client is the XRPC client.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	baseURL     string
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the service, e.g. "https://bsky.social" or a PDS/AppView URL.
	BaseURL string

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Timeout per HTTP exchange.
	Timeout time.Duration

	// Redis client for caching and shared rate limit state. Optional: nil
	// disables both.
	Redis *redis.Client

	// Credentials supplies the bearer token for Do. Optional.
	Credentials auth.Provider

	// CachePolicy controls soft and hard expiry of cached responses.
	CachePolicy cache.Policy

	// Retry controls automatic retries. The default sends each request once.
	Retry RetryConfig

	// MaxBodyBytes caps the size of a response body.
	MaxBodyBytes int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		UserAgent:    userAgent,
		Timeout:      DefaultTimeout,
		CachePolicy:  cache.DefaultPolicy(),
		Retry:        NoRetry(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// New creates a new XRPC client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if err := cfg.CachePolicy.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := logging.NewLogger(logging.ComponentClient)

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:   cfg.Redis,
		config:  cfg,
		baseURL: strings.TrimRight(base.String(), "/"),
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger.With().Str("subsystem", "ratelimit").Logger())
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// Do resolves the credential for d from the configured provider and sends it.
// Auth failures are returned before any request is made.
func (c *Client) Do(ctx context.Context, d xrpc.Descriptor) (*xrpc.Response, error) {
	cred, err := auth.Resolve(ctx, c.config.Credentials, d)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, d, cred)
}

// Send executes d with an already resolved credential.
// This is the core request method that orchestrates all client features.
func (c *Client) Send(ctx context.Context, d xrpc.Descriptor, cred auth.Credential) (*xrpc.Response, error) {
	op := d.Operation()

	startTime := time.Now()
	defer func() {
		xrpcRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, &xrpc.NetworkError{Operation: op, Err: err}
	}

	// Step 1: Check Rate Limit
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, &xrpc.NetworkError{Operation: op, Err: ctx.Err()}
		case err != nil:
			// Shared state unavailable; the service still enforces its quota.
			c.logger.Warn().Err(err).Str("operation", op).Msg("Rate limit check failed")
		case !allowed:
			c.logger.Warn().Str("operation", op).Msg("Request blocked by rate limiter")
			xrpcRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return nil, &xrpc.NetworkError{Operation: op, Err: ratelimit.ErrBlocked}
		}
	}

	// Step 2: Check Cache
	cacheable := c.cache != nil && d.Idempotent()
	var (
		cacheKey    cache.Key
		cachedEntry *cache.Entry
	)
	if cacheable {
		cacheKey = cache.KeyFor(d, cred.Identity())
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			cachedEntry = entry
		case errors.Is(err, cache.ErrCacheMiss):
		case ctx.Err() != nil:
			return nil, &xrpc.NetworkError{Operation: op, Err: ctx.Err()}
		default:
			c.logger.Warn().Err(err).Str("operation", op).Msg("Cache get error")
		}

		if cachedEntry != nil && !cachedEntry.IsStale() {
			xrpcRequestsTotal.WithLabelValues(op, "cache_hit").Inc()
			return cachedEntry.ToResponse(op), nil
		}
	}

	// Step 3: Execute HTTP Request with Retry Logic
	c.logger.Debug().
		Str("operation", op).
		Str("method", string(d.Method())).
		Bool("authenticated", !cred.IsZero()).
		Msg("Executing XRPC request")

	var (
		status int
		header http.Header
		body   []byte
	)
	err := retryWithBackoff(ctx, c.config.Retry, op, c.logger, func() (ErrorClass, error) {
		req, err := c.newRequest(ctx, d, cred, cachedEntry)
		if err != nil {
			return "", &xrpc.NetworkError{Operation: op, Err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("operation", op).Msg("HTTP request failed")
			xrpcErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			xrpcRequestsTotal.WithLabelValues(op, "network_error").Inc()
			return ErrorClassNetwork, &xrpc.NetworkError{Operation: op, Err: err}
		}
		defer resp.Body.Close()

		c.updateRateLimit(ctx, resp.Header)

		data, err := readBody(resp.Body, c.config.MaxBodyBytes)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				return "", &xrpc.DecodeError{Operation: op, Err: err}
			}
			xrpcErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return ErrorClassNetwork, &xrpc.NetworkError{Operation: op, Err: err}
		}

		xrpcRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			xrpcErrorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("operation", op).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("XRPC request error")

			return errClass, xrpc.NewHTTPStatusError(op, resp.StatusCode, data)
		}

		status, header, body = resp.StatusCode, resp.Header, data
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	// Step 4: Handle 304 Not Modified
	if status == http.StatusNotModified {
		if cachedEntry == nil {
			return nil, xrpc.NewHTTPStatusError(op, status, body)
		}

		c.logger.Debug().Str("operation", op).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		refreshed, err := c.cache.Refresh(ctx, cacheKey, header, c.config.CachePolicy)
		if err != nil {
			c.logger.Warn().Err(err).Str("operation", op).Msg("Failed to refresh cache entry")
			refreshed = cachedEntry
		}
		return refreshed.ToResponse(op), nil
	}

	if status < 200 || status >= 300 {
		return nil, xrpc.NewHTTPStatusError(op, status, body)
	}

	// Step 5: Validate payload
	if len(body) > 0 && !json.Valid(body) {
		return nil, &xrpc.DecodeError{Operation: op, Err: errInvalidJSON}
	}

	resp := &xrpc.Response{
		Operation:  op,
		StatusCode: status,
		Header:     header,
		Body:       body,
	}

	// Step 6: Update Cache on success
	if cacheable && status == http.StatusOK {
		entry := cache.NewEntry(status, header, body, c.config.CachePolicy)
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Str("operation", op).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("operation", op).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	// Step 7: Invalidate what a mutation made stale
	if c.cache != nil && !d.Idempotent() {
		for _, stale := range d.Invalidates() {
			if _, err := c.cache.InvalidateOperation(ctx, stale); err != nil {
				c.logger.Warn().Err(err).Str("operation", op).Str("invalidates", stale).Msg("Cache invalidation failed")
			}
		}
	}

	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, d xrpc.Descriptor, cred auth.Credential, cached *cache.Entry) (*http.Request, error) {
	var body io.Reader
	if d.HasBody() {
		body = bytes.NewReader(d.Body())
	}

	req, err := http.NewRequestWithContext(ctx, string(d.Method()), c.baseURL+d.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if d.HasBody() {
		req.Header.Set("Content-Type", "application/json")
	}
	auth.Attach(req, cred)

	if cached != nil && cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(req, cached)
		c.logger.Debug().
			Str("operation", d.Operation()).
			Str("etag", cached.ETag).
			Msg("Making conditional request")
	}

	return req, nil
}

func (c *Client) updateRateLimit(ctx context.Context, h http.Header) {
	if c.rateLimiter == nil {
		return
	}
	if err := c.rateLimiter.UpdateFromHeaders(ctx, h); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}
}

var (
	errBodyTooLarge = errors.New("response body too large")
	errInvalidJSON  = errors.New("response body is not valid JSON")
)

func readBody(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, limit)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Close releases idle connections. The Redis client is owned by the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, or nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the shared rate limit tracker, or nil without Redis.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
