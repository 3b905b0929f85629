package cache

import (
	"sync/atomic"

	"github.com/LavishGent/tilecache/internal/config"
)

// runtimeOptions is the live, mutable option state behind the attribute
// surface. Every field is atomic so option changes are visible to subsequent
// operations from any goroutine without a lock.
type runtimeOptions struct {
	maxOpenFiles       atomic.Int64
	maxMemoryBytes     atomic.Int64
	maxOpenFilesStrict atomic.Bool

	searchPath atomic.Value // string

	autotile     atomic.Int64
	autoscanline atomic.Bool
	automip      atomic.Bool
	forceFloat   atomic.Bool

	acceptUntiled  atomic.Bool
	acceptUnmipped atomic.Bool

	deduplicate      atomic.Bool
	failureRetries   atomic.Int64
	maxErrorsPerFile atomic.Int64
}

func newRuntimeOptions(cfg *config.Config) *runtimeOptions {
	o := &runtimeOptions{}
	o.maxOpenFiles.Store(int64(cfg.Limits.MaxOpenFiles))
	o.maxMemoryBytes.Store(int64(cfg.Limits.MaxMemoryMB * 1024 * 1024))
	o.maxOpenFilesStrict.Store(cfg.Limits.MaxOpenFilesStrict)
	o.searchPath.Store(cfg.Files.SearchPath)
	o.autotile.Store(int64(cfg.Tiles.Autotile))
	o.autoscanline.Store(cfg.Tiles.Autoscanline)
	o.automip.Store(cfg.Tiles.Automip)
	o.forceFloat.Store(cfg.Tiles.ForceFloat)
	o.acceptUntiled.Store(cfg.Files.AcceptUntiled)
	o.acceptUnmipped.Store(cfg.Files.AcceptUnmipped)
	o.deduplicate.Store(cfg.Files.Deduplicate)
	o.failureRetries.Store(int64(cfg.Files.FailureRetries))
	o.maxErrorsPerFile.Store(int64(cfg.Files.MaxErrorsPerFile))
	return o
}

func (o *runtimeOptions) getSearchPath() string {
	s, _ := o.searchPath.Load().(string)
	return s
}
