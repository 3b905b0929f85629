package tilecache

import (
	"sync"

	"github.com/LavishGent/tilecache/internal/cache"
	"github.com/LavishGent/tilecache/internal/config"
)

// New creates a cache with default configuration.
func New(opts ...Option) (*Cache, error) {
	return NewFromConfig(config.DefaultConfig(), opts...)
}

// NewFromConfig creates a cache from configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Cache, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	core, err := cache.NewCore(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	return &Cache{core: core}, nil
}

// NewFromFile creates a cache from a JSON config file, applying environment
// overrides.
func NewFromFile(path string, opts ...Option) (*Cache, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// Config returns a default configuration that can be modified before creating
// a cache.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a configuration suitable for unit tests.
func TestConfig() *config.Config {
	return config.ForTesting()
}

var (
	sharedMu   sync.Mutex
	sharedInst *Cache
	sharedRefs int
)

// Shared returns the process-wide cache instance, creating it on first call.
// Options are honored only by the call that creates the instance. Every
// Shared must be balanced by a ReleaseShared.
func Shared(opts ...Option) (*Cache, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedInst == nil {
		tc, err := New(opts...)
		if err != nil {
			return nil, err
		}
		sharedInst = tc
	}
	sharedRefs++
	return sharedInst, nil
}

// ReleaseShared drops one reference on the shared instance, destroying it
// when the last reference goes away.
func ReleaseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedInst == nil || sharedRefs == 0 {
		return nil
	}
	sharedRefs--
	if sharedRefs > 0 {
		return nil
	}
	err := sharedInst.Destroy()
	sharedInst = nil
	return err
}
