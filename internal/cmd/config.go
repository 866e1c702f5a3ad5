package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration, loaded from a YAML file with
// env-var overrides for the pieces that differ per deployment.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Store struct {
		// Driver is "postgres" or "memory". Memory mode is for local
		// development only; nothing survives a restart.
		Driver string `yaml:"driver"`
	} `yaml:"store"`

	NATS struct {
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
		Consumer      string `yaml:"consumer"`
	} `yaml:"nats"`

	Lobby struct {
		ScanIntervalSec int `yaml:"scan_interval_sec"`
	} `yaml:"lobby"`

	Runner struct {
		Enabled          bool `yaml:"enabled"`
		SweepIntervalSec int  `yaml:"sweep_interval_sec"`
	} `yaml:"runner"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.HTTPAddr = ":8080"
	cfg.Store.Driver = "postgres"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.Stream = "BATTLE_EVENTS"
	cfg.NATS.SubjectPrefix = "battle.rooms"
	cfg.NATS.Consumer = "battle-gateway"
	cfg.Lobby.ScanIntervalSec = 5
	cfg.Runner.Enabled = true
	cfg.Runner.SweepIntervalSec = 5
	return cfg
}

// loadConfig reads the YAML config file. A missing file is not an error;
// the defaults (plus env overrides) apply.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	return cfg
}

func (c Config) lobbyScanInterval() time.Duration {
	return time.Duration(c.Lobby.ScanIntervalSec) * time.Second
}

func (c Config) runnerSweepInterval() time.Duration {
	return time.Duration(c.Runner.SweepIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
