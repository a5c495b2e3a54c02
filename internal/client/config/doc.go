// Package config loads runtime configuration for the desk client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. DESK_* environment variables.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string     API base URL
//	-s string     storage driver: memory, sqlite or redis
//	-d string     SQLite database path
//	-r string     Redis URL
//	-f duration   project list freshness window
//	-l string     log level
//	-embedded     running inside a host application
//
// # JSON schema
//
// Durations use timex.Duration, so they can be strings like "30s" or
// integer nanoseconds:
//
//	{
//	  "api_base_url": "https://desk.example.com/api",
//	  "storage_driver": "sqlite",
//	  "sqlite_path": "desk.db",
//	  "projects_freshness": "30s",
//	  "request_timeout": "10s"
//	}
package config
