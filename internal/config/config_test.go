package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if cfg.Limits.MaxOpenFiles != 100 {
		t.Errorf("MaxOpenFiles = %d, want 100", cfg.Limits.MaxOpenFiles)
	}
	if cfg.Limits.MaxMemoryMB != 1024 {
		t.Errorf("MaxMemoryMB = %g, want 1024", cfg.Limits.MaxMemoryMB)
	}
	if !cfg.Files.Deduplicate {
		t.Error("Deduplicate = false, want true")
	}
	if !cfg.Files.AcceptUntiled || !cfg.Files.AcceptUnmipped {
		t.Error("AcceptUntiled/AcceptUnmipped = false, want true")
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false by default")
	}
}

func TestForTesting(t *testing.T) {
	cfg := ForTesting()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if cfg.Resolution.Enabled {
		t.Error("Resolution.Enabled = true, want false for tests")
	}
	if cfg.Retry.Jitter {
		t.Error("Retry.Jitter = true, want false for tests")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max open files", func(c *Config) { c.Limits.MaxOpenFiles = 0 }},
		{"negative memory", func(c *Config) { c.Limits.MaxMemoryMB = -1 }},
		{"negative retries", func(c *Config) { c.Files.FailureRetries = -1 }},
		{"negative max errors", func(c *Config) { c.Files.MaxErrorsPerFile = -1 }},
		{"non power of two shards", func(c *Config) { c.Tiles.Shards = 12 }},
		{"zero shards", func(c *Config) { c.Tiles.Shards = 0 }},
		{"negative autotile", func(c *Config) { c.Tiles.Autotile = -64 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Limits.MaxOpenFiles != 100 {
			t.Errorf("MaxOpenFiles = %d, want 100", cfg.Limits.MaxOpenFiles)
		}
	})

	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load("/nonexistent/config.json")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Limits.MaxMemoryMB != 1024 {
			t.Errorf("MaxMemoryMB = %g, want 1024", cfg.Limits.MaxMemoryMB)
		}
	})

	t.Run("loads from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		data := `{"limits": {"maxOpenFiles": 32, "maxMemoryMB": 256}, "tiles": {"shards": 16, "autotile": 64}}`
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Limits.MaxOpenFiles != 32 {
			t.Errorf("MaxOpenFiles = %d, want 32", cfg.Limits.MaxOpenFiles)
		}
		if cfg.Limits.MaxMemoryMB != 256 {
			t.Errorf("MaxMemoryMB = %g, want 256", cfg.Limits.MaxMemoryMB)
		}
		if cfg.Tiles.Autotile != 64 {
			t.Errorf("Autotile = %d, want 64", cfg.Tiles.Autotile)
		}
	})

	t.Run("invalid JSON fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load() = nil, want error for invalid JSON")
		}
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(`{"tiles": {"shards": 7}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load() = nil, want validation error")
		}
	})
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("TILECACHE_MAX_OPEN_FILES", "12")
	t.Setenv("TILECACHE_MAX_MEMORY_MB", "48.5")
	t.Setenv("TILECACHE_SEARCHPATH", "/tex:/shared/tex")
	t.Setenv("TILECACHE_AUTOTILE", "128")
	t.Setenv("TILECACHE_AUTOMIP", "true")
	t.Setenv("TILECACHE_FORCE_FLOAT", "1")
	t.Setenv("TILECACHE_METRICS_PUBLISH_INTERVAL", "5s")

	cfg, err := LoadWithEnv("")
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Limits.MaxOpenFiles != 12 {
		t.Errorf("MaxOpenFiles = %d, want 12", cfg.Limits.MaxOpenFiles)
	}
	if cfg.Limits.MaxMemoryMB != 48.5 {
		t.Errorf("MaxMemoryMB = %g, want 48.5", cfg.Limits.MaxMemoryMB)
	}
	if cfg.Files.SearchPath != "/tex:/shared/tex" {
		t.Errorf("SearchPath = %q", cfg.Files.SearchPath)
	}
	if cfg.Tiles.Autotile != 128 {
		t.Errorf("Autotile = %d, want 128", cfg.Tiles.Autotile)
	}
	if !cfg.Tiles.Automip {
		t.Error("Automip = false, want true")
	}
	if !cfg.Tiles.ForceFloat {
		t.Error("ForceFloat = false, want true")
	}
	if cfg.Metrics.PublishInterval != 5*time.Second {
		t.Errorf("PublishInterval = %v, want 5s", cfg.Metrics.PublishInterval)
	}
}

func TestLoadWithEnvDataDog(t *testing.T) {
	t.Setenv("DD_AGENT_HOST", "statsd.internal")
	t.Setenv("DD_DOGSTATSD_PORT", "9125")

	cfg, err := LoadWithEnv("")
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if !cfg.Metrics.DataDog.Enabled {
		t.Error("DataDog.Enabled = false, want true when DD_AGENT_HOST set")
	}
	if cfg.Metrics.DataDog.AgentHost != "statsd.internal" {
		t.Errorf("AgentHost = %q, want statsd.internal", cfg.Metrics.DataDog.AgentHost)
	}
	if cfg.Metrics.DataDog.Port != 9125 {
		t.Errorf("Port = %d, want 9125", cfg.Metrics.DataDog.Port)
	}
}

func TestParseHelpers(t *testing.T) {
	if !parseBool("yes") || !parseBool("TRUE") || !parseBool("1") {
		t.Error("parseBool truthy values failed")
	}
	if parseBool("0") || parseBool("nope") {
		t.Error("parseBool falsy values failed")
	}
	if parseInt("abc", 7) != 7 {
		t.Error("parseInt fallback failed")
	}
	if parseFloat("1.5", 0) != 1.5 {
		t.Error("parseFloat failed")
	}
	if parseDuration("bogus", time.Second) != time.Second {
		t.Error("parseDuration fallback failed")
	}
}
