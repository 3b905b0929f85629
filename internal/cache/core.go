// Package cache implements the caching core: the file table, the tile cache
// with reference-counted eviction, per-thread fast-path contexts, and the
// invalidation protocol.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/LavishGent/tilecache/internal/config"
	"github.com/LavishGent/tilecache/internal/metrics"
	"github.com/LavishGent/tilecache/internal/metrics/datadog"
	"github.com/LavishGent/tilecache/internal/resilience"
	"github.com/LavishGent/tilecache/internal/types"
)

// Core owns all shared cache state. Consumers reach it only through the
// public package's opaque handle operations.
type Core struct {
	cfg    *config.Config
	opts   *runtimeOptions
	logger *slog.Logger
	stats  *metrics.Stats
	retry  *resilience.RetryPolicy

	files *fileTable
	tiles *tileTable

	ptPool sync.Pool

	publisher metrics.Publisher
	bg        *metrics.BackgroundPublisher

	globalErrMu sync.Mutex
	globalErrs  []string

	clock  atomic.Int64
	closed atomic.Bool
}

// tick advances the logical clock used for recency stamps.
func (c *Core) tick() int64 {
	return c.clock.Add(1)
}

// NewCore creates a cache core from configuration. A nil config gets
// defaults; a nil logger gets slog.Default.
func NewCore(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tilecache")

	c := &Core{
		cfg:    cfg,
		opts:   newRuntimeOptions(cfg),
		logger: logger,
		stats:  metrics.NewStats(),
		retry:  resilience.NewRetryPolicy(cfg.Retry),
	}
	c.ptPool.New = func() any { return &Perthread{} }

	files, err := newFileTable(c)
	if err != nil {
		return nil, err
	}
	c.files = files
	c.tiles = newTileTable(c, cfg.Tiles.Shards)

	c.publisher = metrics.NewNoOpPublisher()
	if cfg.Metrics.Enabled {
		pub, err := datadog.NewPublisher(&cfg.Metrics.DataDog, logger)
		if err != nil {
			c.files.close()
			return nil, err
		}
		c.publisher = pub
		c.bg = metrics.NewBackgroundPublisher(pub, cfg.Metrics.PublishInterval, c.stats.Snapshot, logger)
		c.bg.Start(context.Background())
	}

	return c, nil
}

// Destroy tears the cache down. All handles become invalid; operations after
// Destroy fail with ErrClosed.
func (c *Core) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.bg != nil {
		c.bg.Stop()
	}
	err := c.publisher.Close()

	c.tiles.dropAll()
	c.files.close()

	snap := c.stats.Snapshot()
	c.logger.Debug("Cache destroyed", "stats", snap.Summary())
	return err
}

// Stats returns a snapshot of the aggregate statistics.
func (c *Core) Stats() metrics.Snapshot {
	return c.stats.Snapshot()
}

// ResetStats zeroes running counters without altering cached data or budgets.
func (c *Core) ResetStats() {
	c.stats.Reset()
}

// Logger exposes the component logger for the public package.
func (c *Core) Logger() *slog.Logger {
	return c.logger
}

// borrowPerthread supplies the convenience path when the caller passes no
// per-thread context: a pool-backed context is borrowed for one call. Any
// diagnostics it accumulates are moved to the global queue on return.
func (c *Core) borrowPerthread() *Perthread {
	return c.ptPool.Get().(*Perthread)
}

func (c *Core) returnPerthread(pt *Perthread) {
	if errs := pt.takeErrors(); len(errs) > 0 {
		c.globalErrMu.Lock()
		c.globalErrs = append(c.globalErrs, errs...)
		c.globalErrMu.Unlock()
	}
	c.ptPool.Put(pt)
}

// queueError records a diagnostic on the per-thread context, or the global
// queue when there is none. Per-file suppression is handled by the caller.
func (c *Core) queueError(pt *Perthread, msg string) {
	if pt != nil {
		pt.queueError(msg)
		return
	}
	c.globalErrMu.Lock()
	c.globalErrs = append(c.globalErrs, msg)
	c.globalErrMu.Unlock()
}

// fileError counts an error against a record and queues the diagnostic
// unless the file has exceeded max_errors_per_file. The counter keeps
// incrementing past the threshold so the condition stays observable.
func (c *Core) fileError(pt *Perthread, rec *fileRecord, err error) {
	n := rec.errorCount.Add(1)
	maxErrs := c.opts.maxErrorsPerFile.Load()
	if maxErrs > 0 && n > maxErrs {
		return
	}
	msg := err.Error()
	if maxErrs > 0 && n == maxErrs {
		msg = fmt.Sprintf("%s (suppressing further errors for this file)", msg)
	}
	c.queueError(pt, msg)
	c.logger.Debug("File error", "file", rec.name, "error", err, "count", n)
}

// HasPendingError reports whether diagnostics are queued on the context (or
// globally when pt is nil).
func (c *Core) HasPendingError(pt *Perthread) bool {
	if pt != nil && pt.hasErrors() {
		return true
	}
	c.globalErrMu.Lock()
	defer c.globalErrMu.Unlock()
	return len(c.globalErrs) > 0
}

// DrainErrors returns the queued diagnostics joined by newlines, clearing
// them when clear is set.
func (c *Core) DrainErrors(pt *Perthread, clear bool) string {
	var out []string
	if pt != nil {
		out = append(out, pt.peekErrors()...)
		if clear {
			pt.takeErrors()
		}
	}
	c.globalErrMu.Lock()
	out = append(out, c.globalErrs...)
	if clear {
		c.globalErrs = nil
	}
	c.globalErrMu.Unlock()
	return joinLines(out)
}

func (c *Core) checkClosed() error {
	if c.closed.Load() {
		return types.ErrClosed
	}
	return nil
}

func joinLines(lines []string) string {
	switch len(lines) {
	case 0:
		return ""
	case 1:
		return lines[0]
	}
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	b := make([]byte, 0, n)
	for i, l := range lines {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, l...)
	}
	return string(b)
}
