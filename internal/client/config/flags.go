package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/deskclient/internal/flagx"
)

var flagSpec = flagx.Spec{
	Value: []string{"a", "s", "d", "r", "f", "l"},
	Bool:  []string{"embedded"},
}

// parseFlags overlays cfg with command-line flags. Other components' flags
// are filtered out first. It panics on malformed values.
func parseFlags(cfg *Config) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "API base URL")
	fs.StringVar(&cfg.StorageDriver, "s", cfg.StorageDriver, "storage driver: memory, sqlite or redis")
	fs.StringVar(&cfg.SQLitePath, "d", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.RedisURL, "r", cfg.RedisURL, "Redis URL")
	fs.DurationVar(&cfg.ProjectsFreshness, "f", cfg.ProjectsFreshness, "project list freshness window")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.HostEmbedded, "embedded", cfg.HostEmbedded, "running inside a host application")

	if err := fs.Parse(flagx.Filter(args(), flagSpec)); err != nil {
		panic(err)
	}
}
