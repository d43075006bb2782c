// Package app wires configuration into a ready-to-use dispatcher and the
// shared worker server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/embersky/xrpc-client/pkg/auth"
	"github.com/embersky/xrpc-client/pkg/client"
	"github.com/embersky/xrpc-client/pkg/config"
	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/metrics"
	"github.com/embersky/xrpc-client/pkg/pagination"
	"github.com/embersky/xrpc-client/pkg/worker"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// App holds the components built from a Config.
type App struct {
	config     config.Config
	redis      *redis.Client
	client     *client.Client
	creds      auth.Provider
	dispatcher dispatch.Dispatcher
	logger     zerolog.Logger

	mu      sync.Mutex
	worker  *worker.Worker
	handler *worker.Handler
	closers []func()
}

// New builds the dispatcher selected by cfg.Worker. Local strategies also
// get the Redis connection (when configured) and the client; an app that
// delegates to a remote worker needs neither. ctx bounds the lifetime of an
// in-process worker.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config: cfg,
		creds:  auth.FromEnv(cfg.Auth.TokenEnv, cfg.Auth.PrincipalEnv),
		logger: logging.NewLogger(logging.ComponentServer),
	}

	if cfg.Strategy() == dispatch.StrategyDelegated && cfg.Worker.Endpoint != "" {
		// The remote worker owns the cache and the client.
		remote, err := worker.NewRemotePort(cfg.Worker.Endpoint, cfg.Worker.Port)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, remote.Close)
		a.dispatcher = remote
		a.logger.Info().
			Str("endpoint", cfg.Worker.Endpoint).
			Str("port", cfg.Worker.Port).
			Msg("Dispatching to remote worker")
		return a, nil
	}

	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		a.logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.Redis = a.redis
	clientCfg.Credentials = a.creds
	c, err := client.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}
	a.client = c

	if cfg.Strategy() == dispatch.StrategyDirect {
		a.dispatcher = dispatch.NewDirect(c)
	} else {
		port := a.startWorker(ctx).Connect(cfg.Worker.Port)
		a.closers = append(a.closers, port.Close)
		a.dispatcher = port
	}

	a.logger.Info().
		Str("strategy", string(cfg.Strategy())).
		Str("base_url", cfg.Service.BaseURL).
		Bool("redis", a.redis != nil).
		Msg("Dispatcher ready")

	return a, nil
}

func connectRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}
	if strings.Contains(rc.Addr, "://") {
		parsed, err := redis.ParseURL(rc.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if rc.Password != "" {
			parsed.Password = rc.Password
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// startWorker returns the in-process worker, starting it on first use.
func (a *App) startWorker(ctx context.Context) *worker.Worker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.worker == nil {
		a.worker = worker.New(ctx, a.client, worker.Config{
			Credentials: a.creds,
			MailboxSize: a.config.Worker.MailboxSize,
		})
	}
	return a.worker
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.config }

// Client returns the underlying XRPC client. It is nil when the app
// dispatches to a remote worker.
func (a *App) Client() *client.Client { return a.client }

// Remote reports whether the app dispatches to a worker in another process.
func (a *App) Remote() bool { return a.client == nil }

// Dispatcher returns the configured dispatch strategy.
func (a *App) Dispatcher() dispatch.Dispatcher { return a.dispatcher }

// BatchFetcher returns a batch fetcher over the dispatcher.
func (a *App) BatchFetcher() *pagination.BatchFetcher {
	return pagination.NewBatchFetcher(a.dispatcher, a.config.Batch)
}

// Handler returns the worker server routes, starting the in-process worker
// if the app has none yet:
//
//	POST /dispatch  GET /stats  GET /health  GET /ready  GET /metrics
//
// An app that dispatches to a remote worker serves only the last three.
func (a *App) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	if !a.Remote() {
		w := a.startWorker(ctx)

		a.mu.Lock()
		if a.handler == nil {
			a.handler = worker.NewHandler(w)
		}
		h := a.handler
		a.mu.Unlock()

		mux.Handle("/dispatch", h)
		mux.Handle("/stats", h)
	}
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /ready", a.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// ServeWorker serves Handler on cfg.Worker.Listen until ctx is done, then
// shuts the server down gracefully.
func (a *App) ServeWorker(ctx context.Context) error {
	if a.Remote() {
		return fmt.Errorf("worker server: already delegating to %s", a.config.Worker.Endpoint)
	}

	srv := &http.Server{
		Addr:              a.config.Worker.Listen,
		Handler:           a.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", srv.Addr).
			Str("user_agent", a.config.Service.UserAgent).
			Msg("Starting worker server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("worker server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown worker server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker server: %w", err)
	}
	a.logger.Info().Msg("Worker server stopped")
	return nil
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

// Close releases the ports, the worker, the client and the Redis connection.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	h, w := a.handler, a.worker
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if h != nil {
		h.Close()
	}
	if w != nil {
		w.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
