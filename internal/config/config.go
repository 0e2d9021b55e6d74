// Package config loads runtime settings from an optional YAML file and
// FEEDFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"feedflow/internal/feed"
	"feedflow/internal/registry"
	"feedflow/internal/search"
	"feedflow/internal/window"
)

const (
	DefaultAddr         = ":8080"
	DefaultDBPath       = "feedflow.db"
	DefaultLogLevel     = "info"
	DefaultFetchTimeout = 15 * time.Second
)

var (
	errEmptyAddr        = errors.New("addr is required")
	errBadPollInterval  = errors.New("poll_interval must be at least one minute")
	errBadFetchTimeout  = errors.New("fetch_timeout must be positive")
	errBadPageSize      = errors.New("page_size must be positive")
	errBadPageCap       = errors.New("page_cap must be at least page_size")
	errBadRetryAttempts = errors.New("retry_attempts must be between 1 and 10")
	errNegativeDuration = errors.New("durations must not be negative")
)

type Config struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db"`
	LogLevel string `yaml:"log_level"`

	PollInterval  time.Duration `yaml:"poll_interval"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	Concurrency   int           `yaml:"concurrency"`
	Proxies       []string      `yaml:"proxies"`
	UserAgent     string        `yaml:"user_agent"`

	PageSize  int           `yaml:"page_size"`
	PageCap   int           `yaml:"page_cap"`
	LoadDelay time.Duration `yaml:"load_delay"`
	Debounce  time.Duration `yaml:"debounce"`

	// Feeds seeds the subscription list when the database holds none.
	Feeds []registry.FeedDescriptor `yaml:"feeds"`
}

func Default() Config {
	return Config{
		Addr:          DefaultAddr,
		DBPath:        DefaultDBPath,
		LogLevel:      DefaultLogLevel,
		PollInterval:  feed.PollInterval,
		FetchTimeout:  DefaultFetchTimeout,
		RetryAttempts: 3,
		UserAgent:     feed.DefaultUserAgent,
		PageSize:      window.DefaultPageSize,
		PageCap:       window.DefaultCap,
		LoadDelay:     window.DefaultLoadDelay,
		Debounce:      search.DefaultDebounce,
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with the environment.
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
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	c.Addr = getEnv(lookup, "FEEDFLOW_ADDR", c.Addr)
	c.DBPath = getEnv(lookup, "FEEDFLOW_DB", c.DBPath)
	c.LogLevel = getEnv(lookup, "FEEDFLOW_LOG_LEVEL", c.LogLevel)
	c.UserAgent = getEnv(lookup, "FEEDFLOW_USER_AGENT", c.UserAgent)
	c.PollInterval = getEnvDuration(lookup, "FEEDFLOW_POLL_INTERVAL", c.PollInterval)
	c.FetchTimeout = getEnvDuration(lookup, "FEEDFLOW_FETCH_TIMEOUT", c.FetchTimeout)
	c.Concurrency = getEnvInt(lookup, "FEEDFLOW_CONCURRENCY", c.Concurrency)
	if value, ok := lookup("FEEDFLOW_PROXIES"); ok {
		c.Proxies = splitList(value)
	}
}

// Validate rejects settings the rest of the program cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errEmptyAddr)
	}
	if c.PollInterval < time.Minute {
		errs = append(errs, errBadPollInterval)
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errBadFetchTimeout)
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errs = append(errs, errBadRetryAttempts)
	}
	if c.PageSize <= 0 {
		errs = append(errs, errBadPageSize)
	} else if c.PageCap < c.PageSize {
		errs = append(errs, errBadPageCap)
	}
	if c.LoadDelay < 0 || c.Debounce < 0 {
		errs = append(errs, errNegativeDuration)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", name, err)
	}
	return level, nil
}

func getEnv(lookup lookupFunc, key, defaultValue string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(lookup lookupFunc, key string, defaultValue int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
		slog.Warn("ignoring invalid integer env", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(lookup lookupFunc, key string, defaultValue time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
		slog.Warn("ignoring invalid duration env", "key", key, "value", value)
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
