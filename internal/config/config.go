// Package config provides configuration management for tilecache.
package config

import (
	"fmt"
	"time"
)

// Config contains the initial configuration for a cache instance. Every
// option here is also reachable at runtime through the attribute surface;
// this struct only seeds the starting values.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Limits     LimitsConfig     `json:"limits"`
	Files      FilesConfig      `json:"files"`
	Tiles      TilesConfig      `json:"tiles"`
	Resolution ResolutionConfig `json:"resolution"`
	Retry      RetryConfig      `json:"retry"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// LimitsConfig bounds the cache's resource usage.
type LimitsConfig struct {
	// MaxOpenFiles is the budget of simultaneously open OS handles.
	MaxOpenFiles int `json:"maxOpenFiles"`
	// MaxMemoryMB is the byte budget for resident decoded tiles, in MB.
	MaxMemoryMB float64 `json:"maxMemoryMB"`
	// MaxOpenFilesStrict removes the small overage tolerance normally
	// allowed before handle eviction kicks in.
	MaxOpenFilesStrict bool `json:"maxOpenFilesStrict"`
}

// FilesConfig controls file table behavior.
type FilesConfig struct {
	// SearchPath is a colon-separated list of directories consulted when
	// resolving relative filenames.
	SearchPath string `json:"searchPath"`
	// Deduplicate aliases files whose content fingerprints match.
	Deduplicate bool `json:"deduplicate"`
	// FailureRetries is the number of retries for transient I/O failures
	// before a file is marked broken.
	FailureRetries int `json:"failureRetries"`
	// MaxErrorsPerFile suppresses diagnostics for a file after this many
	// errors; the underlying counter keeps incrementing.
	MaxErrorsPerFile int `json:"maxErrorsPerFile"`
	// AcceptUntiled and AcceptUnmipped allow such sources to be used;
	// when false the open is rejected instead.
	AcceptUntiled  bool `json:"acceptUntiled"`
	AcceptUnmipped bool `json:"acceptUnmipped"`
}

// TilesConfig controls the tile cache.
type TilesConfig struct {
	// Shards is the number of lock-striped map shards; must be a power
	// of two.
	Shards int `json:"shards"`
	// Autotile is the synthesized tile edge for untiled sources; 0
	// disables virtual tiling.
	Autotile int `json:"autotile"`
	// Autoscanline synthesizes full-width strips instead of square tiles.
	Autoscanline bool `json:"autoscanline"`
	// Automip synthesizes lower-resolution mip levels for unmipped
	// sources by downsampling on demand.
	Automip bool `json:"automip"`
	// ForceFloat converts all cached pixels to float32 storage.
	ForceFloat bool `json:"forceFloat"`
}

// ResolutionConfig controls the bounded filename-resolution memo.
type ResolutionConfig struct {
	Enabled         bool          `json:"enabled"`
	MaxSizeMB       int           `json:"maxSizeMB"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	Shards          int           `json:"shards"`
}

// RetryConfig contains backoff settings for transient I/O retries. The
// attempt count comes from FilesConfig.FailureRetries.
type RetryConfig struct {
	InitialBackoff time.Duration `json:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
	Multiplier     float64       `json:"multiplier"`
	Jitter         bool          `json:"jitter"`
}

// MetricsConfig contains configuration for metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type MetricsConfig struct {
	PublishInterval time.Duration `json:"publishInterval"`
	DataDog         DataDogConfig `json:"datadog"`
	Enabled         bool          `json:"enabled"`
}

// DataDogConfig contains configuration for DataDog metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Tags      []string `json:"tags"`
	AgentHost string   `json:"agentHost"`
	Prefix    string   `json:"prefix"`
	Port      int      `json:"port"`
	Enabled   bool     `json:"enabled"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Limits.MaxOpenFiles < 1 {
		return fmt.Errorf("config: maxOpenFiles must be >= 1, got %d", c.Limits.MaxOpenFiles)
	}
	if c.Limits.MaxMemoryMB <= 0 {
		return fmt.Errorf("config: maxMemoryMB must be positive, got %g", c.Limits.MaxMemoryMB)
	}
	if c.Files.FailureRetries < 0 {
		return fmt.Errorf("config: failureRetries must be >= 0, got %d", c.Files.FailureRetries)
	}
	if c.Files.MaxErrorsPerFile < 0 {
		return fmt.Errorf("config: maxErrorsPerFile must be >= 0, got %d", c.Files.MaxErrorsPerFile)
	}
	if c.Tiles.Shards < 1 || c.Tiles.Shards&(c.Tiles.Shards-1) != 0 {
		return fmt.Errorf("config: tile shards must be a power of two, got %d", c.Tiles.Shards)
	}
	if c.Tiles.Autotile < 0 {
		return fmt.Errorf("config: autotile must be >= 0, got %d", c.Tiles.Autotile)
	}
	return nil
}
