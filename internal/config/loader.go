package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from a JSON file.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TILECACHE_MAX_OPEN_FILES"); v != "" {
		cfg.Limits.MaxOpenFiles = parseInt(v, cfg.Limits.MaxOpenFiles)
	}
	if v := os.Getenv("TILECACHE_MAX_MEMORY_MB"); v != "" {
		cfg.Limits.MaxMemoryMB = parseFloat(v, cfg.Limits.MaxMemoryMB)
	}
	if v := os.Getenv("TILECACHE_SEARCHPATH"); v != "" {
		cfg.Files.SearchPath = v
	}
	if v := os.Getenv("TILECACHE_DEDUPLICATE"); v != "" {
		cfg.Files.Deduplicate = parseBool(v)
	}
	if v := os.Getenv("TILECACHE_FAILURE_RETRIES"); v != "" {
		cfg.Files.FailureRetries = parseInt(v, cfg.Files.FailureRetries)
	}
	if v := os.Getenv("TILECACHE_AUTOTILE"); v != "" {
		cfg.Tiles.Autotile = parseInt(v, cfg.Tiles.Autotile)
	}
	if v := os.Getenv("TILECACHE_AUTOMIP"); v != "" {
		cfg.Tiles.Automip = parseBool(v)
	}
	if v := os.Getenv("TILECACHE_FORCE_FLOAT"); v != "" {
		cfg.Tiles.ForceFloat = parseBool(v)
	}
	if v := os.Getenv("TILECACHE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("TILECACHE_METRICS_PUBLISH_INTERVAL"); v != "" {
		cfg.Metrics.PublishInterval = parseDuration(v, cfg.Metrics.PublishInterval)
	}

	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
		cfg.Metrics.DataDog.Enabled = true
	}
	if v := os.Getenv("DD_DOGSTATSD_PORT"); v != "" {
		cfg.Metrics.DataDog.Port = parseInt(v, cfg.Metrics.DataDog.Port)
	}
	if v := os.Getenv("DD_SERVICE"); v != "" {
		cfg.Metrics.DataDog.Prefix = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
