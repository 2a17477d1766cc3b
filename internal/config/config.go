// Package config loads gateway configuration from environment variables, following the same parse-all-errors-at-once
// pattern as the rest of the ambient stack: every malformed value is collected and reported together rather than
// failing on the first one.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration populated from environment variables.
type Config struct {
	// Core
	ServerName        string
	ServerEnv         string // "development" or "production"
	ListenAddr        string
	WebSocketPath     string
	LogHealthRequests bool

	// Redis/Valkey (presence + typing)
	RedisURL         string
	RedisDialTimeout time.Duration

	// NATS broker (fan-out pub/sub)
	NATSURL     string
	NATSTimeout time.Duration

	// Persistence/API service client
	APIBaseURL       string
	APITimeout       time.Duration
	APIServiceName   string
	APIMaxRetries    uint64
	APIRetryBaseWait time.Duration

	// JWT
	JWTSecret string
	JWTIssuer string

	// Connection/session limits
	HeartbeatInterval    time.Duration
	IdleTimeoutMultiplier int
	MaxFrameBytes        int
	MaxConnections        int
	SendQueueHighWater    int
	RateLimitFramesPerSec float64
	RateLimitBurst        int

	// CORS
	CORSAllowOrigins string
}

// Load reads configuration from environment variables with sensible local-dev defaults. It returns an error if any
// variable is set but cannot be parsed, or if required security values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerName:        envStr("SERVER_NAME", "IM Gateway"),
		ServerEnv:         envStr("SERVER_ENV", "production"),
		ListenAddr:        envStr("LISTEN_ADDR", ":8080"),
		WebSocketPath:     envStr("WS_PATH", "/ws"),
		LogHealthRequests: p.bool("LOG_HEALTH_REQUESTS", true),

		RedisURL:         envStr("REDIS_URL", "valkey://valkey:6379/0"),
		RedisDialTimeout: p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),

		NATSURL:     envStr("NATS_URL", "nats://nats:4222"),
		NATSTimeout: p.duration("NATS_TIMEOUT", 5*time.Second),

		APIBaseURL:       envStr("API_BASE_URL", "http://api:8090"),
		APITimeout:       p.duration("API_TIMEOUT", 8*time.Second),
		APIServiceName:   envStr("API_SERVICE_NAME", "im-gateway"),
		APIMaxRetries:    p.uint64("API_MAX_RETRIES", 3),
		APIRetryBaseWait: p.duration("API_RETRY_BASE_WAIT", 100*time.Millisecond),

		JWTSecret: envStr("JWT_SECRET", ""),
		JWTIssuer: envStr("JWT_ISSUER", "https://api.example.com"),

		HeartbeatInterval:     p.duration("HEARTBEAT_INTERVAL", 30*time.Second),
		IdleTimeoutMultiplier: p.int("IDLE_TIMEOUT_MULTIPLIER", 3),
		MaxFrameBytes:         p.int("MAX_FRAME_BYTES", 64*1024),
		MaxConnections:        p.int("MAX_CONNECTIONS", 100_000),
		SendQueueHighWater:    p.int("SEND_QUEUE_HIGH_WATER", 256),
		RateLimitFramesPerSec: p.float64("RATE_LIMIT_FRAMES_PER_SEC", 20),
		RateLimitBurst:        p.int("RATE_LIMIT_BURST", 40),

		CORSAllowOrigins: envStr("CORS_ALLOW_ORIGINS", "*"),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	// In development mode, listen on loopback unless LISTEN_ADDR is set; nothing security-sensitive is loosened.
	if cfg.IsDevelopment() {
		cfg.ListenAddr = envStr("LISTEN_ADDR", "127.0.0.1:8080")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

// IdleTimeout is the duration of inbound silence after which a session is forcibly closed (spec §4.3).
func (c *Config) IdleTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.IdleTimeoutMultiplier)
}

func (c *Config) validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 characters"))
	}

	if c.MaxFrameBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_FRAME_BYTES must be at least 1"))
	}
	if c.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must be at least 1"))
	}
	if c.SendQueueHighWater < 1 {
		errs = append(errs, fmt.Errorf("SEND_QUEUE_HIGH_WATER must be at least 1"))
	}

	if c.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s"))
	}
	if c.IdleTimeoutMultiplier < 1 {
		errs = append(errs, fmt.Errorf("IDLE_TIMEOUT_MULTIPLIER must be at least 1"))
	}

	if c.APITimeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("API_TIMEOUT must be at least 1ms"))
	}
	if c.NATSTimeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("NATS_TIMEOUT must be at least 1ms"))
	}

	if c.RateLimitFramesPerSec <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FRAMES_PER_SEC must be greater than 0"))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) uint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected unsigned integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) float64(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected number)", key, v))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\" or \"30m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
