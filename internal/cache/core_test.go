package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/LavishGent/tilecache/internal/config"
	"github.com/LavishGent/tilecache/internal/format/formattest"
	"github.com/LavishGent/tilecache/internal/types"
)

var imageSeq atomic.Int64

// addImage registers a synthetic image under a unique invented path and
// removes it when the test finishes.
func addImage(t *testing.T, img *formattest.Image) string {
	t.Helper()
	path := fmt.Sprintf("img-%d.%s", imageSeq.Add(1), formattest.Ext)
	formattest.Add(path, img)
	t.Cleanup(func() { formattest.Remove(path) })
	return path
}

// newTestCore builds a core from the test configuration, optionally mutated,
// and destroys it when the test finishes.
func newTestCore(t *testing.T, mutate func(*config.Config)) *Core {
	t.Helper()
	cfg := config.ForTesting()
	if mutate != nil {
		mutate(cfg)
	}
	c, err := NewCore(cfg, nil)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func TestNewCore(t *testing.T) {
	t.Run("nil config gets defaults", func(t *testing.T) {
		c, err := NewCore(nil, nil)
		if err != nil {
			t.Fatalf("NewCore() error = %v", err)
		}
		defer c.Destroy()

		var limit int
		if !c.GetAttribute("max_open_files", &limit) || limit != 100 {
			t.Errorf("max_open_files = %d, want 100", limit)
		}
	})

	t.Run("invalid config fails", func(t *testing.T) {
		cfg := config.ForTesting()
		cfg.Tiles.Shards = 3
		if _, err := NewCore(cfg, nil); err == nil {
			t.Error("NewCore() = nil, want error for non power-of-two shards")
		}
	})
}

func TestDestroy(t *testing.T) {
	c := newTestCore(t, nil)
	path := addImage(t, formattest.NewImage(32, 32, 1, types.FormatUInt8).WithTiles(16, 16))

	f, err := c.Resolve(nil, path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := c.Describe(nil, f, 0, 0); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	t.Run("operations fail after destroy", func(t *testing.T) {
		if _, err := c.Resolve(nil, path); !errors.Is(err, types.ErrClosed) {
			t.Errorf("Resolve() error = %v, want ErrClosed", err)
		}
		if _, err := c.Describe(nil, f, 0, 0); !errors.Is(err, types.ErrClosed) {
			t.Errorf("Describe() error = %v, want ErrClosed", err)
		}
	})

	t.Run("double destroy is a no-op", func(t *testing.T) {
		if err := c.Destroy(); err != nil {
			t.Errorf("second Destroy() error = %v, want nil", err)
		}
	})

	t.Run("residency drops to zero", func(t *testing.T) {
		snap := c.Stats()
		if snap.TilesCurrent != 0 {
			t.Errorf("TilesCurrent = %d, want 0 after destroy", snap.TilesCurrent)
		}
		if snap.OpensCurrent != 0 {
			t.Errorf("OpensCurrent = %d, want 0 after destroy", snap.OpensCurrent)
		}
	})
}

func TestErrorQueuePerthread(t *testing.T) {
	c := newTestCore(t, nil)
	pt := NewPerthread()

	if c.HasPendingError(pt) {
		t.Fatal("HasPendingError() = true before any error")
	}

	// unresolvable file queues a diagnostic on the context
	f, err := c.Resolve(pt, "no-such-file.nope")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := c.Describe(pt, f, 0, 0); err == nil {
		t.Fatal("Describe() = nil, want error for unsupported format")
	}

	if !c.HasPendingError(pt) {
		t.Error("HasPendingError() = false after failure")
	}
	msg := c.DrainErrors(pt, true)
	if !strings.Contains(msg, "no-such-file.nope") {
		t.Errorf("DrainErrors() = %q, want filename included", msg)
	}
	if c.HasPendingError(pt) {
		t.Error("HasPendingError() = true after clearing drain")
	}
}

func TestErrorQueueGlobal(t *testing.T) {
	c := newTestCore(t, nil)

	// nil context routes diagnostics to the global queue via the pool
	f, _ := c.Resolve(nil, "missing.nope")
	if _, err := c.Describe(nil, f, 0, 0); err == nil {
		t.Fatal("Describe() = nil, want error")
	}

	if !c.HasPendingError(nil) {
		t.Error("HasPendingError(nil) = false, want true")
	}
	if msg := c.DrainErrors(nil, true); msg == "" {
		t.Error("DrainErrors(nil) = empty, want diagnostic")
	}
	if c.HasPendingError(nil) {
		t.Error("global queue not cleared")
	}
}

func TestMaxErrorsPerFile(t *testing.T) {
	c := newTestCore(t, nil)
	if !c.Attribute("max_errors_per_file", 2) {
		t.Fatal("Attribute(max_errors_per_file) = false")
	}
	pt := NewPerthread()

	f, err := c.Resolve(pt, "bad.nope")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := c.Describe(pt, f, 0, 0); err == nil {
			t.Fatal("Describe() = nil, want error")
		}
	}

	msg := c.DrainErrors(pt, true)
	lines := strings.Split(msg, "\n")
	if len(lines) != 2 {
		t.Fatalf("queued %d diagnostics, want 2 (then suppressed): %q", len(lines), msg)
	}
	if !strings.Contains(lines[1], "suppressing further errors") {
		t.Errorf("last diagnostic = %q, want suppression marker", lines[1])
	}

	// counter keeps incrementing past the threshold
	if got := c.FileStatsFor(f).Errors; got != 5 {
		t.Errorf("Errors = %d, want 5", got)
	}
}

func TestStatsReset(t *testing.T) {
	c := newTestCore(t, nil)
	path := addImage(t, formattest.NewImage(32, 32, 1, types.FormatUInt8).WithTiles(16, 16))

	f, _ := c.Resolve(nil, path)
	tile, err := c.AcquireTile(nil, f, 0, 0, 0, 0, 0, 0, 1)
	if err != nil {
		t.Fatalf("AcquireTile() error = %v", err)
	}

	c.ResetStats()
	snap := c.Stats()
	if snap.FindTileCalls != 0 || snap.TilesCreated != 0 {
		t.Errorf("counters not zeroed: calls=%d created=%d", snap.FindTileCalls, snap.TilesCreated)
	}
	if snap.TilesCurrent != 1 {
		t.Errorf("TilesCurrent = %d, want 1 (gauges preserved)", snap.TilesCurrent)
	}

	if err := c.ReleaseTile(nil, tile); err != nil {
		t.Fatalf("ReleaseTile() error = %v", err)
	}
}
