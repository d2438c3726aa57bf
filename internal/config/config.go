package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendBbolt  = "bbolt"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	DBFile  string
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreTimeout time.Duration

	AdminAddr string

	// APIAddr defaults to loopback. Identity is read from headers set by an
	// authenticating reverse proxy, so the API must only be reachable through it.
	APIAddr string

	HeartbeatInterval    time.Duration
	PresencePollInterval time.Duration
	StalenessWindow      time.Duration
	SweepInterval        time.Duration

	MaxMessages int
	LogLevel    slog.Level
}

// Load reads the configuration from the environment. Variables from a
// .env file in the working directory are applied first when it exists and
// never override the real environment.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key, fallback string) int {
		n, err := strconv.Atoi(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}

	cfg := &Config{
		DBFile:               getEnv("SKYTALK_DB", "skytalk.db"),
		Backend:              strings.ToLower(getEnv("STORE_BACKEND", BackendBbolt)),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              integer("REDIS_DB", "0"),
		StoreTimeout:         duration("STORE_TIMEOUT", "5s"),
		AdminAddr:            getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:              getEnv("API_ADDR", "localhost:8080"),
		HeartbeatInterval:    duration("HEARTBEAT_INTERVAL", "10s"),
		PresencePollInterval: duration("PRESENCE_POLL_INTERVAL", "1s"),
		StalenessWindow:      duration("STALENESS_WINDOW", "30s"),
		SweepInterval:        duration("SWEEP_INTERVAL", "30s"),
		MaxMessages:          integer("MAX_MESSAGES", "1000"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if cliMode {
		if c.AdminAddr == "" {
			return fmt.Errorf("ADMIN_ADDR is required")
		}
		return nil
	}

	switch c.Backend {
	case BackendBbolt:
		if c.DBFile == "" {
			return fmt.Errorf("SKYTALK_DB is required for the bbolt backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s; got %q", BackendBbolt, BackendMemory, BackendRedis, c.Backend)
	}

	for name, d := range map[string]time.Duration{
		"STORE_TIMEOUT":          c.StoreTimeout,
		"HEARTBEAT_INTERVAL":     c.HeartbeatInterval,
		"PRESENCE_POLL_INTERVAL": c.PresencePollInterval,
		"STALENESS_WINDOW":       c.StalenessWindow,
		"SWEEP_INTERVAL":         c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}

	if c.StalenessWindow <= c.HeartbeatInterval {
		return fmt.Errorf("STALENESS_WINDOW must be longer than HEARTBEAT_INTERVAL")
	}

	if c.MaxMessages < 0 {
		return fmt.Errorf("MAX_MESSAGES must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
