package tilecache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/LavishGent/tilecache/internal/format/formattest"
)

var imageSeq atomic.Int64

func addImage(t *testing.T, img *formattest.Image) string {
	t.Helper()
	path := fmt.Sprintf("api-img-%d.synth", imageSeq.Add(1))
	formattest.Add(path, img)
	t.Cleanup(func() { formattest.Remove(path) })
	return path
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	tc, err := NewFromConfig(TestConfig())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	t.Cleanup(func() { tc.Destroy() })
	return tc
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tc, err := New()
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer tc.Destroy()

		var maxFiles int
		if !tc.GetAttribute("max_open_files", &maxFiles) || maxFiles != 100 {
			t.Errorf("max_open_files = %d, want 100", maxFiles)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := Config()
		cfg.Limits.MaxOpenFiles = 0
		if _, err := NewFromConfig(cfg); err == nil {
			t.Error("NewFromConfig() error = nil, want validation failure")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := NewFromFile("/no/such/config.json"); err == nil {
			t.Error("NewFromFile() error = nil, want load failure")
		}
	})

	t.Run("with logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		tc, err := NewFromConfig(TestConfig(), WithLogger(logger))
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		defer tc.Destroy()
		if tc.Logger() == nil {
			t.Error("Logger() = nil")
		}
	})
}

func TestEndToEnd(t *testing.T) {
	tc := newTestCache(t)
	img := formattest.NewImage(64, 64, 3, FormatUInt8).WithTiles(16, 16)
	path := addImage(t, img)

	pt := tc.NewPerthread()
	f, err := tc.Resolve(pt, path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	spec, err := tc.Describe(pt, f, 0, 0)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if spec.Width != 64 || spec.Height != 64 || spec.Channels != 3 {
		t.Fatalf("spec = %dx%dx%d, want 64x64x3", spec.Width, spec.Height, spec.Channels)
	}

	t.Run("get pixels", func(t *testing.T) {
		region := NewRegion2D(10, 30, 5, 25)
		dst := make([]byte, region.NumPixels()*3)
		if err := tc.GetPixels(pt, f, 0, 0, region, 0, 3, FormatUInt8, dst); err != nil {
			t.Fatalf("GetPixels() error = %v", err)
		}
		want := formattest.ExpectedBytes(spec, 0, 0, region, 0, 3)
		if !bytes.Equal(dst, want) {
			t.Error("pixels do not match decoder output")
		}
	})

	t.Run("tile access", func(t *testing.T) {
		tile, err := tc.AcquireTile(pt, f, 0, 0, 20, 35, 0, 0, 3)
		if err != nil {
			t.Fatalf("AcquireTile() error = %v", err)
		}
		defer tc.ReleaseTile(pt, tile)

		region := tc.TileRegion(tile)
		if region != NewRegion2D(16, 32, 32, 48) {
			t.Errorf("TileRegion() = %v", region)
		}
		if got := tc.TileChannels(tile); got != 3 {
			t.Errorf("TileChannels() = %d, want 3", got)
		}
		pixels, pf := tc.TilePixels(tile)
		if pf != FormatUInt8 {
			t.Errorf("stored format = %v, want uint8", pf)
		}
		want := formattest.ExpectedBytes(spec, 0, 0, region, 0, 3)
		if !bytes.Equal(pixels, want) {
			t.Error("tile pixels do not match decoder output")
		}
	})

	t.Run("counts and stats", func(t *testing.T) {
		if got := tc.TotalFiles(); got != 1 {
			t.Errorf("TotalFiles() = %d, want 1", got)
		}
		names := tc.AllFilenames()
		if len(names) != 1 || names[0] != path {
			t.Errorf("AllFilenames() = %v", names)
		}
		if got := tc.Stats().TilesCreated; got == 0 {
			t.Error("Stats().TilesCreated = 0, want > 0")
		}
		fs := tc.FileStats(f)
		if fs.Name != path || fs.Opens != 1 {
			t.Errorf("FileStats() = %+v", fs)
		}
		if all := tc.AllFileStats(); len(all) != 1 {
			t.Errorf("AllFileStats() len = %d, want 1", len(all))
		}
		if s := tc.StatsSummary(); !strings.Contains(s, "tiles") {
			t.Errorf("StatsSummary() = %q, want tile section", s)
		}
	})

	t.Run("invalidate and close", func(t *testing.T) {
		if err := tc.Invalidate(pt, f, true); err != nil {
			t.Errorf("Invalidate() error = %v", err)
		}
		if err := tc.InvalidateAll(pt, true); err != nil {
			t.Errorf("InvalidateAll() error = %v", err)
		}
		if err := tc.CloseFile(pt, f); err != nil {
			t.Errorf("CloseFile() error = %v", err)
		}
		if err := tc.CloseAll(); err != nil {
			t.Errorf("CloseAll() error = %v", err)
		}
		if _, err := tc.Describe(pt, f, 0, 0); err != nil {
			t.Errorf("Describe() after invalidate error = %v", err)
		}
	})
}

func TestErrorReporting(t *testing.T) {
	tc := newTestCache(t)
	path := addImage(t, formattest.NewImage(16, 16, 1, FormatUInt8).WithTiles(16, 16))

	pt := tc.NewPerthread()
	if tc.HasPendingError(pt) {
		t.Fatal("HasPendingError() = true on a fresh context")
	}

	missing, err := tc.Resolve(pt, "missing.nope")
	if err != nil {
		t.Fatalf("Resolve() error = %v (errors surface on first access)", err)
	}
	if _, err := tc.Describe(pt, missing, 0, 0); err == nil {
		t.Fatal("Describe() error = nil, want unsupported-format failure")
	}
	if !tc.HasPendingError(pt) {
		t.Error("HasPendingError() = false after failure")
	}
	msg := tc.GetError(pt, true)
	if !strings.Contains(msg, "missing.nope") {
		t.Errorf("GetError() = %q, want the filename", msg)
	}
	if tc.HasPendingError(pt) {
		t.Error("HasPendingError() = true after clearing")
	}

	if _, err := tc.Resolve(pt, path); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	t.Run("destroyed cache fails closed", func(t *testing.T) {
		tc2, _ := NewFromConfig(TestConfig())
		tc2.Destroy()
		if _, err := tc2.Resolve(nil, path); !errors.Is(err, ErrClosed) {
			t.Errorf("Resolve() error = %v, want ErrClosed", err)
		}
	})
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name string
		pred func(error) bool
		err  error
	}{
		{"not found", IsNotFound, fmt.Errorf("open: %w", ErrNotFound)},
		{"broken corrupt header", IsBroken, fmt.Errorf("open: %w", ErrCorruptHeader)},
		{"broken corrupt data", IsBroken, fmt.Errorf("read: %w", ErrCorruptData)},
		{"invalid handle", IsInvalidHandle, fmt.Errorf("acquire: %w", ErrInvalidHandle)},
		{"retryable", IsRetryable, fmt.Errorf("open: %w", ErrTransientIO)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.pred(tt.err) {
				t.Errorf("predicate(%v) = false, want true", tt.err)
			}
			if tt.pred(nil) {
				t.Error("predicate(nil) = true, want false")
			}
		})
	}

	if IsRetryable(fmt.Errorf("open: %w", ErrCorruptHeader)) {
		t.Error("IsRetryable(corrupt header) = true, want false")
	}
}

func TestSharedInstance(t *testing.T) {
	a, err := Shared()
	if err != nil {
		t.Fatalf("Shared() error = %v", err)
	}
	b, err := Shared()
	if err != nil {
		t.Fatalf("Shared() error = %v", err)
	}
	if a != b {
		t.Fatal("Shared() returned distinct instances")
	}

	if err := ReleaseShared(); err != nil {
		t.Fatalf("ReleaseShared() error = %v", err)
	}

	// One reference remains; the instance must still work.
	path := addImage(t, formattest.NewImage(16, 16, 1, FormatUInt8).WithTiles(16, 16))
	if _, err := a.Resolve(nil, path); err != nil {
		t.Fatalf("Resolve() on live shared instance error = %v", err)
	}

	if err := ReleaseShared(); err != nil {
		t.Fatalf("ReleaseShared() error = %v", err)
	}
	if _, err := a.Resolve(nil, path); !errors.Is(err, ErrClosed) {
		t.Errorf("Resolve() after final release error = %v, want ErrClosed", err)
	}

	// Releasing without a reference is a no-op.
	if err := ReleaseShared(); err != nil {
		t.Errorf("ReleaseShared() extra call error = %v", err)
	}
}

func TestFormatRegistry(t *testing.T) {
	ext := fmt.Sprintf("apifmt%d", imageSeq.Add(1))
	RegisterFormat(ext, func(path string) (Input, error) {
		return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
	})
	defer UnregisterFormat(ext)

	found := false
	for _, e := range FormatExtensions() {
		if e == ext {
			found = true
		}
	}
	if !found {
		t.Fatalf("FormatExtensions() = %v, want %q listed", FormatExtensions(), ext)
	}

	tc := newTestCache(t)
	f, err := tc.Resolve(nil, "anything."+ext)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := tc.Describe(nil, f, 0, 0); !IsNotFound(err) {
		t.Errorf("Describe() error = %v, want the opener's error", err)
	}
}
