package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/deskclient/internal/flagx"
	"github.com/dmitrijs2005/deskclient/internal/timex"
)

// JsonConfig is the on-disk shape. Pointer fields distinguish "absent"
// from "zero" so a partial file only overrides what it names.
type JsonConfig struct {
	APIBaseURL        *string         `json:"api_base_url"`
	RequestTimeout    *timex.Duration `json:"request_timeout"`
	StorageDriver     *string         `json:"storage_driver"`
	SQLitePath        *string         `json:"sqlite_path"`
	RedisURL          *string         `json:"redis_url"`
	RedisPrefix       *string         `json:"redis_prefix"`
	PollInterval      *timex.Duration `json:"poll_interval"`
	ProjectsFreshness *timex.Duration `json:"projects_freshness"`
	HostEmbedded      *bool           `json:"host_embedded"`
	LogLevel          *string         `json:"log_level"`
	LogFormat         *string         `json:"log_format"`
}

// parseJson overlays cfg with the file named by -c/-config, if any. It
// panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	path := flagx.ConfigPath(args())
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}
	jc.apply(cfg)
}

func (jc JsonConfig) apply(cfg *Config) {
	setString(&cfg.APIBaseURL, jc.APIBaseURL)
	setString(&cfg.StorageDriver, jc.StorageDriver)
	setString(&cfg.SQLitePath, jc.SQLitePath)
	setString(&cfg.RedisURL, jc.RedisURL)
	setString(&cfg.RedisPrefix, jc.RedisPrefix)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)

	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	if jc.ProjectsFreshness != nil {
		cfg.ProjectsFreshness = jc.ProjectsFreshness.Duration
	}
	if jc.HostEmbedded != nil {
		cfg.HostEmbedded = *jc.HostEmbedded
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
