package config

import (
	"os"

	"PTracker/tools/errs"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// The YAML file path is CONFIG_PATH (fallback "./config.yaml"). A missing
// default file means ENV + defaults only.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}
	return LoadFile(path, explicitPath)
}

// LoadFile is Load with the path given. When required is false a missing
// file is not an error.
func LoadFile(path string, required bool) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, errs.WrapMsg(err, "config: read", "path", path)
		}
	} else if required {
		return nil, errs.WrapMsg(err, "config: file", "path", path)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, errs.WrapMsg(err, "config: read env")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.WrapMsg(err, "config: validate")
	}
	return &cfg, nil
}
