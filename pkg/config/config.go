// Package config loads the settings shared by the CLI and the worker server.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and environment variables.
//
//	service:
//	  base_url: https://public.api.bsky.app
//	  user_agent: "my-app/1.0 (ops@example.com)"
//	redis:
//	  addr: localhost:6379
//	worker:
//	  strategy: delegated
//	  endpoint: http://localhost:8080
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/embersky/xrpc-client/pkg/cache"
	"github.com/embersky/xrpc-client/pkg/client"
	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/logging"
	"github.com/embersky/xrpc-client/pkg/pagination"
)

// Environment variables that override file values.
const (
	EnvBaseURL        = "XRPC_BASE_URL"
	EnvUserAgent      = "USER_AGENT"
	EnvRedisURL       = "REDIS_URL"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvStrategy       = "XRPC_STRATEGY"
	EnvWorkerListen   = "WORKER_LISTEN"
	EnvWorkerEndpoint = "WORKER_ENDPOINT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogPretty      = "LOG_PRETTY"
)

// DefaultUserAgent identifies this client when nothing else is configured.
const DefaultUserAgent = "embersky/0.1.0"

// Config is the complete configuration.
type Config struct {
	Service ServiceConfig      `yaml:"service"`
	Redis   RedisConfig        `yaml:"redis"`
	Cache   cache.Policy       `yaml:"cache"`
	Retry   client.RetryConfig `yaml:"retry"`
	Worker  WorkerConfig       `yaml:"worker"`
	Auth    AuthConfig         `yaml:"auth"`
	Batch   pagination.Config  `yaml:"batch"`
	Log     LogConfig          `yaml:"log"`
}

// ServiceConfig describes the XRPC service.
type ServiceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// RedisConfig configures the shared cache and rate limit state. An empty Addr
// disables both.
type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// WorkerConfig selects the dispatch strategy.
type WorkerConfig struct {
	// Strategy is "direct" or "delegated".
	Strategy string `yaml:"strategy"`

	// Listen is the address the worker server binds to.
	Listen string `yaml:"listen"`

	// Endpoint of a shared worker server. With the delegated strategy an
	// empty endpoint runs the worker in-process.
	Endpoint string `yaml:"endpoint"`

	// Port names this process on the worker.
	Port string `yaml:"port"`

	MailboxSize int `yaml:"mailbox_size"`
}

// AuthConfig names the environment variables holding the credential.
type AuthConfig struct {
	TokenEnv     string `yaml:"token_env"`
	PrincipalEnv string `yaml:"principal_env"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:      client.DefaultBaseURL,
			UserAgent:    DefaultUserAgent,
			Timeout:      client.DefaultTimeout,
			MaxBodyBytes: client.DefaultMaxBodyBytes,
		},
		Cache: cache.DefaultPolicy(),
		Retry: client.NoRetry(),
		Worker: WorkerConfig{
			Strategy:    string(dispatch.StrategyDirect),
			Listen:      ":8080",
			Port:        "main",
			MailboxSize: 64,
		},
		Auth: AuthConfig{
			TokenEnv:     "XRPC_TOKEN",
			PrincipalEnv: "XRPC_PRINCIPAL",
		},
		Batch: pagination.DefaultConfig(),
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Service.BaseURL, EnvBaseURL)
	setString(&c.Service.UserAgent, EnvUserAgent)
	setString(&c.Redis.Addr, EnvRedisURL)
	setString(&c.Redis.Password, EnvRedisPassword)
	setString(&c.Worker.Strategy, EnvStrategy)
	setString(&c.Worker.Listen, EnvWorkerListen)
	setString(&c.Worker.Endpoint, EnvWorkerEndpoint)
	setString(&c.Log.Level, EnvLogLevel)

	if v := os.Getenv(EnvLogPretty); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogPretty, err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Service.UserAgent) == "" {
		errs = append(errs, errors.New("service.user_agent is required"))
	}
	if err := validateHTTPURL(c.Service.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("service.base_url: %w", err))
	}
	if c.Service.Timeout <= 0 {
		errs = append(errs, errors.New("service.timeout must be positive"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := dispatch.ParseStrategy(c.Worker.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("worker.strategy: %w", err))
	}
	if c.Worker.Endpoint != "" {
		if err := validateHTTPURL(c.Worker.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("worker.endpoint: %w", err))
		}
	}
	if c.Worker.MailboxSize < 0 {
		errs = append(errs, errors.New("worker.mailbox_size must not be negative"))
	}
	if c.Batch.MaxConcurrency < 0 {
		errs = append(errs, errors.New("batch.max_concurrency must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Strategy returns the parsed dispatch strategy. It assumes Validate passed.
func (c Config) Strategy() dispatch.Strategy {
	s, _ := dispatch.ParseStrategy(c.Worker.Strategy)
	return s
}

// ClientConfig translates the service, cache and retry sections.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Service.UserAgent)
	cfg.BaseURL = c.Service.BaseURL
	cfg.Timeout = c.Service.Timeout
	cfg.MaxBodyBytes = c.Service.MaxBodyBytes
	cfg.CachePolicy = c.Cache
	cfg.Retry = c.Retry
	return cfg
}

// LoggingConfig translates the log section.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Log.Level)
	if err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) url (got %q)", raw)
	}
	return nil
}
