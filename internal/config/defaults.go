package config

import "time"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxOpenFiles:       100,
			MaxMemoryMB:        1024,
			MaxOpenFilesStrict: false,
		},
		Files: FilesConfig{
			SearchPath:       "",
			Deduplicate:      true,
			FailureRetries:   0,
			MaxErrorsPerFile: 100,
			AcceptUntiled:    true,
			AcceptUnmipped:   true,
		},
		Tiles: TilesConfig{
			Shards:       64,
			Autotile:     0,
			Autoscanline: false,
			Automip:      false,
			ForceFloat:   false,
		},
		Resolution: ResolutionConfig{
			Enabled:         true,
			MaxSizeMB:       8,
			TTL:             1 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			Shards:          64,
		},
		Retry: RetryConfig{
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
			Jitter:         true,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			PublishInterval: 30 * time.Second,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "localhost",
				Port:      8125,
				Prefix:    "tilecache",
			},
		},
	}
}

// ForTesting returns a small, deterministic configuration for unit tests:
// tight budgets, no retry backoff, no resolution memo, no metrics.
func ForTesting() *Config {
	cfg := DefaultConfig()
	cfg.Limits.MaxOpenFiles = 4
	cfg.Limits.MaxMemoryMB = 16
	cfg.Tiles.Shards = 4
	cfg.Resolution.Enabled = false
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.Retry.Jitter = false
	return cfg
}
