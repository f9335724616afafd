// Package config assembles runtime configuration from the environment, an
// optional .env file and an optional YAML overrides file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/gridfeed/gridfeed/internal/api"
	"github.com/gridfeed/gridfeed/internal/fetch"
	"github.com/gridfeed/gridfeed/internal/store"
)

// Config is everything the process needs to run.
type Config struct {
	DatabaseURL string       `yaml:"database_url"`
	SourcesFile string       `yaml:"sources_file"`
	Workers     int          `yaml:"workers"`
	LogLevel    string       `yaml:"log_level"`
	API         api.Config   `yaml:"api"`
	Fetch       fetch.Config `yaml:"fetch"`
	Store       store.Config `yaml:"store"`
}

// Load reads a .env file when present, then the environment, then the YAML
// overrides file named by GRIDFEED_CONFIG. YAML wins over environment for
// tuning knobs; the environment wins for the connection and path settings it
// names explicitly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := &Config{
		DatabaseURL: envOr("DATABASE_URL", "sqlite:gridfeed.db"),
		SourcesFile: envOr("SOURCES_FILE", "config/sources.txt"),
		Workers:     4,
		LogLevel:    envOr("LOG_LEVEL", "info"),
		API:         api.DefaultConfig(),
		Fetch:       fetch.DefaultConfig(),
		Store:       store.DefaultConfig(),
	}

	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKER_POOL_SIZE %q", v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid API_PORT %q", v)
		}
		cfg.API.Port = n
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.API.AllowedOrigins = append(cfg.API.AllowedOrigins, origin)
			}
		}
	}

	if path := os.Getenv("GRIDFEED_CONFIG"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// SetupLogging applies the configured level to the global logger, writing
// human-readable console output.
func (c *Config) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
