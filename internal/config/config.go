package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the dspd service.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DSPD_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage backend: "memory" or "redis". With redis, graph updates
	// are also relayed across replicas.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	// Redis configuration (used when StorageBackend is "redis")
	Redis RedisConfig

	// Limits
	Limits LimitConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LimitConfig holds resource limits.
type LimitConfig struct {
	// MaxUploadBytes caps a single audio upload request body.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"` // 100 MiB

	// MaxConcurrentExecutions bounds simultaneous pipeline runs.
	MaxConcurrentExecutions int `env:"MAX_CONCURRENT_EXECUTIONS" envDefault:"4"`

	// SubscriberBuffer is the per-subscriber update channel capacity;
	// overflow drops the oldest snapshot.
	SubscriberBuffer int `env:"SUBSCRIBER_BUFFER" envDefault:"16"`
}

// TimeoutConfig holds various timeout configurations.
type TimeoutConfig struct {
	ExecutionTimeout time.Duration `env:"TIMEOUT_EXECUTION" envDefault:"300s"`
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StorageBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory or redis)", c.StorageBackend)
	}

	if c.Limits.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload bytes must be at least 1")
	}
	if c.Limits.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("max concurrent executions must be at least 1")
	}
	if c.Limits.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber buffer must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// HTTPAddr returns the HTTP server address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
