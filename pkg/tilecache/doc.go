// Package tilecache provides a shared, bounded-memory cache of image tiles.
//
// tilecache lets an application touch far more image data than fits in RAM:
// pixels are read on demand in tile-sized units, kept in a fixed-size memory
// budget, and transparently evicted and re-read as access patterns shift.
// Many goroutines share one cache, one open-file budget, and one memory
// budget.
//
// # Quick Start
//
// Create a cache with default configuration:
//
//	tc, err := tilecache.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tc.Destroy()
//
//	f, err := tc.Resolve(nil, "textures/wood.synth")
//	spec, err := tc.Describe(nil, f, 0, 0)
//
//	buf := make([]byte, spec.Region().NumPixels()*spec.Channels*4)
//	err = tc.GetPixels(nil, f, 0, 0, spec.Region(), 0, spec.Channels,
//	    tilecache.FormatFloat32, buf)
//
// # Handles
//
// Filenames resolve once to opaque [File] handles; all subsequent operations
// take the handle instead of re-hashing the name. Handles stay valid until
// the cache is destroyed, even across invalidation.
//
// # Tile Access
//
// GetPixels is the high-level path. Latency-critical callers can pin tiles
// directly:
//
//	t, err := tc.AcquireTile(nil, f, 0, 0, x, y, 0, 0, spec.Channels)
//	if err == nil {
//	    pixels, format := tc.TilePixels(t)
//	    // ... read pixels ...
//	    tc.ReleaseTile(nil, t)
//	}
//
// A pinned tile's pixel data stays valid and immutable until released; only
// unpinned tiles are eviction candidates.
//
// # Per-Thread Contexts
//
// Every operation accepts an optional [Perthread] context carrying a
// single-entry file/tile memo and a private error queue. Goroutines that
// hammer the cache should hold one:
//
//	pt := tc.NewPerthread()
//	for _, q := range queries {
//	    t, err := tc.AcquireTile(pt, f, ...)
//	    ...
//	}
//
// Passing nil is always safe; the cache falls back to a pooled context at a
// small cost per call.
//
// # Configuration and Attributes
//
// Budgets and behavior knobs come from a [Config] at construction and stay
// adjustable at runtime through the attribute surface:
//
//	tc.Attribute("max_memory_MB", 512.0)
//	tc.Attribute("max_open_files", 64)
//	tc.Attribute("autotile", 64)
//
//	var resident int64
//	tc.GetAttribute("stat:cache_memory_used", &resident)
//
// # Invalidation
//
// When files change on disk:
//
//	tc.Invalidate(nil, f, false)   // only if mtime/size changed
//	tc.InvalidateAll(nil, true)    // force everything out
//
// Handles survive invalidation; the next access reopens and re-reads.
//
// # File Formats
//
// Decoders register by extension through [RegisterFormat]. The cache itself
// is format-agnostic; it only asks a decoder for metadata and rectangular
// pixel regions.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Concurrent misses on the same
// tile are coalesced so each tile is decoded at most once.
package tilecache
