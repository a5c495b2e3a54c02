package config

import (
	"github.com/ilyakaznacheev/cleanenv"
)

// parseEnv overlays cfg with DESK_* environment variables. It panics on a
// value that does not parse, like the other loaders.
func parseEnv(cfg *Config) {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		panic(err)
	}
}
