package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"hiring-pipeline-agents/internal/catalog"
)

// Config holds runtime configuration for the agents process. It is built once at
// startup and passed to every component.
type Config struct {
	Env                string
	APIBaseURL         string
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	Workers            []string
	MetricsAddr        string
	ShutdownGrace      time.Duration
	BackoffMax         time.Duration
	ConditionalUpdates bool
	HeartbeatEnabled   bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitCapacity  int
	RateLimitRefill    float64
	LockPath           string
	LogLevel           string
	LogFormat          string
}

// Default returns the configuration used when neither a file nor env overrides a key.
func Default() Config {
	return Config{
		Env:                "dev",
		APIBaseURL:         "http://localhost:5000/api",
		PollInterval:       60 * time.Second,
		RequestTimeout:     10 * time.Second,
		Workers:            []string{"intake", "workflow", "interview"},
		MetricsAddr:        ":9090",
		ShutdownGrace:      2 * time.Second,
		BackoffMax:         0,
		ConditionalUpdates: true,
		HeartbeatEnabled:   true,
		RedisDB:            0,
		RateLimitCapacity:  50,
		RateLimitRefill:    20,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load reads the optional TOML file at path, applies environment overrides and
// validates the result. An empty path falls back to AGENTS_CONFIG; a missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AGENTS_CONFIG")
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config as it appears in TOML. Durations are written as
// Go duration strings ("90s", "2m"); absent keys leave the default in place.
type fileConfig struct {
	Env                *string  `toml:"env"`
	APIBaseURL         *string  `toml:"api_base_url"`
	PollInterval       *string  `toml:"poll_interval"`
	RequestTimeout     *string  `toml:"request_timeout"`
	Workers            []string `toml:"workers"`
	MetricsAddr        *string  `toml:"metrics_addr"`
	ShutdownGrace      *string  `toml:"shutdown_grace"`
	BackoffMax         *string  `toml:"backoff_max"`
	ConditionalUpdates *bool    `toml:"conditional_updates"`
	HeartbeatEnabled   *bool    `toml:"heartbeat_enabled"`
	RedisAddr          *string  `toml:"redis_addr"`
	RedisPassword      *string  `toml:"redis_password"`
	RedisDB            *int     `toml:"redis_db"`
	RateLimitCapacity  *int     `toml:"rate_limit_capacity"`
	RateLimitRefill    *float64 `toml:"rate_limit_refill_per_sec"`
	LockPath           *string  `toml:"lock_path"`
	LogLevel           *string  `toml:"log_level"`
	LogFormat          *string  `toml:"log_format"`
}

func (c *Config) decodeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return c.merge(fc)
}

func (c *Config) merge(fc fileConfig) error {
	setString(&c.Env, fc.Env)
	setString(&c.APIBaseURL, fc.APIBaseURL)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	setString(&c.LockPath, fc.LockPath)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	if len(fc.Workers) > 0 {
		c.Workers = append([]string(nil), fc.Workers...)
	}
	if fc.ConditionalUpdates != nil {
		c.ConditionalUpdates = *fc.ConditionalUpdates
	}
	if fc.HeartbeatEnabled != nil {
		c.HeartbeatEnabled = *fc.HeartbeatEnabled
	}
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}
	if fc.RateLimitCapacity != nil {
		c.RateLimitCapacity = *fc.RateLimitCapacity
	}
	if fc.RateLimitRefill != nil {
		c.RateLimitRefill = *fc.RateLimitRefill
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"shutdown_grace", fc.ShutdownGrace, &c.ShutdownGrace},
		{"backoff_max", fc.BackoffMax, &c.BackoffMax},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.Workers = getEnvList("WORKERS", c.Workers)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", c.ShutdownGrace)
	c.BackoffMax = getEnvDuration("BACKOFF_MAX", c.BackoffMax)
	c.ConditionalUpdates = getEnvBool("CONDITIONAL_UPDATES", c.ConditionalUpdates)
	c.HeartbeatEnabled = getEnvBool("HEARTBEAT_ENABLED", c.HeartbeatEnabled)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RateLimitCapacity = getEnvInt("RATE_LIMIT_CAPACITY", c.RateLimitCapacity)
	c.RateLimitRefill = getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", c.RateLimitRefill)
	c.LockPath = getEnv("LOCK_PATH", c.LockPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks values that would otherwise fail later in a confusing way.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_base_url: invalid url %q", c.APIBaseURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.BackoffMax < 0 {
		return fmt.Errorf("backoff_max must not be negative, got %s", c.BackoffMax)
	}
	if len(c.Workers) == 0 {
		return errors.New("workers: at least one worker must be enabled")
	}
	seen := make(map[catalog.Stage]struct{}, len(c.Workers))
	for _, name := range c.Workers {
		stage, err := catalog.ParseStage(name)
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("workers: %q listed twice", stage)
		}
		seen[stage] = struct{}{}
	}
	if c.RedisAddr != "" {
		if c.RateLimitCapacity <= 0 || c.RateLimitRefill <= 0 {
			return errors.New("rate limit capacity and refill must be positive when redis_addr is set")
		}
	}
	return nil
}

// Stages returns the configured workers as catalog stages. Validate must have passed.
func (c Config) Stages() []catalog.Stage {
	out := make([]catalog.Stage, 0, len(c.Workers))
	for _, name := range c.Workers {
		if stage, err := catalog.ParseStage(name); err == nil {
			out = append(out, stage)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
