// Package config provides the runtime defaults, validation, and environment
// loading for the realtime fan-out service.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Relay drivers.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// RelayConfig selects and configures the publish/subscribe relay.
type RelayConfig struct {
	Driver        string
	Channel       string
	QueueSize     int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Config holds the service configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Relay           RelayConfig
	PeerURL         string
	JWTSecret       string
	RequireAuth     bool
	EventsToken     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Relay: RelayConfig{
			Driver:    DriverRedis,
			Channel:   "chat_channel",
			QueueSize: 1024,
			RedisAddr: "localhost:6379",
		},
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Sanitize replaces unset or invalid values with defaults.
func (c Config) Sanitize() Config {
	def := Default()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Relay.Driver != DriverMemory {
		c.Relay.Driver = DriverRedis
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = def.Relay.Channel
	}
	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = def.Relay.QueueSize
	}
	if c.Relay.RedisAddr == "" {
		c.Relay.RedisAddr = def.Relay.RedisAddr
	}
	if c.Relay.RedisDB < 0 {
		c.Relay.RedisDB = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// ErrAuthWithoutSecret is returned by Validate when authentication is
// required but no signing secret is configured.
var ErrAuthWithoutSecret = errors.New("config: REQUIRE_AUTH is set but JWT_SECRET is empty")

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if c.RequireAuth && c.JWTSecret == "" {
		return ErrAuthWithoutSecret
	}
	return nil
}

// LoadDotEnv reads KEY=value pairs from the given files (".env" when none are
// named) into the process environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// FromEnv creates a Config from environment variables, falling back to
// defaults for anything unset or unparsable.
func FromEnv() Config {
	cfg := Default()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if driver := os.Getenv("RELAY_DRIVER"); driver != "" {
		cfg.Relay.Driver = strings.ToLower(strings.TrimSpace(driver))
	}
	if channel := os.Getenv("RELAY_CHANNEL"); channel != "" {
		cfg.Relay.Channel = channel
	}
	if size := os.Getenv("RELAY_QUEUE_SIZE"); size != "" {
		cfg.Relay.QueueSize = parseIntValue(size, cfg.Relay.QueueSize)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Relay.RedisAddr = addr
	}
	cfg.Relay.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil && n >= 0 {
			cfg.Relay.RedisDB = n
		}
	}

	cfg.PeerURL = os.Getenv("PEER_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.EventsToken = os.Getenv("EVENTS_TOKEN")
	if v := os.Getenv("REQUIRE_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireAuth = b
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return cfg.Sanitize()
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
