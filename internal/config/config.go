// Package config loads settings from defaults, an optional YAML file, and
// environment overrides, in that order.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath        string `yaml:"db_path" env:"VST_DB_PATH"`
	Addr          string `yaml:"addr" env:"VST_ADDR"`
	LogLevel      string `yaml:"log_level" env:"VST_LOG_LEVEL"`
	LogJSON       bool   `yaml:"log_json" env:"VST_LOG_JSON"`
	BusBufferSize int    `yaml:"bus_buffer_size" env:"VST_BUS_BUFFER_SIZE"`
}

func Default() Config {
	return Config{
		DBPath:        "./variantstore.db",
		Addr:          ":8080",
		LogLevel:      "info",
		BusBufferSize: 256,
	}
}

// Load merges the YAML file at path (skipped when path is empty) and the
// environment on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
