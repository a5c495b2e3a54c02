package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config holds runtime settings for the client. The env tags are read by
// cleanenv; a variable that is unset leaves the field alone.
type Config struct {
	APIBaseURL     string        `env:"DESK_API_URL"`
	RequestTimeout time.Duration `env:"DESK_REQUEST_TIMEOUT"`

	StorageDriver string        `env:"DESK_STORAGE"`
	SQLitePath    string        `env:"DESK_SQLITE_PATH"`
	RedisURL      string        `env:"DESK_REDIS_URL"`
	RedisPrefix   string        `env:"DESK_REDIS_PREFIX"`
	PollInterval  time.Duration `env:"DESK_POLL_INTERVAL"`

	ProjectsFreshness time.Duration `env:"DESK_PROJECTS_FRESHNESS"`
	HostEmbedded      bool          `env:"DESK_HOST_EMBEDDED"`

	LogLevel  string `env:"DESK_LOG_LEVEL"`
	LogFormat string `env:"DESK_LOG_FORMAT"`
}

// LoadDefaults populates c with defaults suitable for local use.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 10 * time.Second
	c.StorageDriver = StorageSQLite
	c.SQLitePath = "desk.db"
	c.RedisPrefix = "desk:"
	c.PollInterval = 500 * time.Millisecond
	c.ProjectsFreshness = 30 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	switch c.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite storage needs a database path"))
		}
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis storage needs a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.LogFormat {
	case "text", "json", "zap":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config from defaults, the JSON file, the
// environment and os.Args, in that order. It panics on unreadable input
// and on an invalid result.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg
}

func args() []string {
	if len(os.Args) < 2 {
		return nil
	}
	return os.Args[1:]
}
