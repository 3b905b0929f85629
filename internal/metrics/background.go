package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BackgroundPublisher publishes cache statistics at regular intervals
// with context-based cancellation support.
type BackgroundPublisher struct {
	publisher Publisher
	logger    *slog.Logger
	snapshot  func() Snapshot
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	interval  time.Duration
}

// NewBackgroundPublisher creates a new background publisher. The snapshot
// function is called on each interval to get the current statistics.
func NewBackgroundPublisher(publisher Publisher, interval time.Duration, snapshot func() Snapshot, logger *slog.Logger) *BackgroundPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &BackgroundPublisher{
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "metrics-background"),
		snapshot:  snapshot,
	}
}

// Start begins the background publishing loop.
// The provided context controls the lifecycle of the background goroutine.
func (b *BackgroundPublisher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run()
	b.logger.Info("Background metrics publisher started", "interval", b.interval)
}

// Stop cancels the background context and waits for shutdown.
func (b *BackgroundPublisher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("Background metrics publisher stopped")
}

func (b *BackgroundPublisher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.publishOnce()
		}
	}
}

func (b *BackgroundPublisher) publishOnce() {
	snap := b.snapshot()

	b.publisher.Gauge("tiles.current", float64(snap.TilesCurrent))
	b.publisher.Gauge("tiles.peak", float64(snap.TilesPeak))
	b.publisher.Gauge("memory.resident_bytes", float64(snap.CacheBytes))
	b.publisher.Gauge("files.open", float64(snap.OpensCurrent))
	b.publisher.Gauge("files.unique", float64(snap.UniqueFiles))
	b.publisher.Count("tiles.created", snap.TilesCreated)
	b.publisher.Count("io.bytes_read", snap.BytesRead)
	b.publisher.Count("io.redundant_bytes", snap.RedundantBytes)
	b.publisher.Timing("io.file_time", snap.FileIOTime)
	b.publisher.Timing("io.open_time", snap.FileOpenTime)

	if total := snap.FindTileCalls; total > 0 {
		hitRatio := 1 - float64(snap.FindTileCacheMisses)/float64(total)
		b.publisher.Gauge("tiles.hit_ratio", hitRatio)
	}
}
