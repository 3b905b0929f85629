package tilecache

import (
	"log/slog"

	"github.com/LavishGent/tilecache/internal/cache"
	"github.com/LavishGent/tilecache/internal/metrics"
)

// Cache is the public face of the tile cache. All methods are safe for
// concurrent use; the pt argument is an optional per-goroutine fast-path
// context and may be nil.
type Cache struct {
	core *cache.Core
}

// NewPerthread creates a per-goroutine context. Hold one per worker goroutine
// for memoized lookups and a private error queue.
func (c *Cache) NewPerthread() *Perthread {
	return cache.NewPerthread()
}

// Resolve maps a filename to its stable handle, applying search-path logic
// on first sight.
func (c *Cache) Resolve(pt *Perthread, name string) (File, error) {
	return c.core.Resolve(pt, name)
}

// Describe returns the image spec of one subimage/miplevel, opening the file
// on first use.
func (c *Cache) Describe(pt *Perthread, f File, subimage, miplevel int) (ImageSpec, error) {
	return c.core.Describe(pt, f, subimage, miplevel)
}

// NumSubimages reports how many subimages the file holds.
func (c *Cache) NumSubimages(pt *Perthread, f File) (int, error) {
	return c.core.NumSubimages(pt, f)
}

// NumMipLevels reports how many mip levels a subimage has, counting any
// synthesized by automip.
func (c *Cache) NumMipLevels(pt *Perthread, f File, subimage int) (int, error) {
	return c.core.NumMipLevels(pt, f, subimage)
}

// GetPixels reads an arbitrary rectangular region into dst, converting to
// dstFmt with channels [chBegin, chEnd) interleaved. Pixels outside the data
// window come back zero.
func (c *Cache) GetPixels(pt *Perthread, f File, subimage, miplevel int, region Region, chBegin, chEnd int, dstFmt PixelFormat, dst []byte) error {
	return c.core.GetPixels(pt, f, subimage, miplevel, region, chBegin, chEnd, dstFmt, dst)
}

// AcquireTile pins and returns the tile containing pixel (x, y, z). The
// returned tile must be released exactly once.
func (c *Cache) AcquireTile(pt *Perthread, f File, subimage, miplevel, x, y, z, chBegin, chEnd int) (Tile, error) {
	return c.core.AcquireTile(pt, f, subimage, miplevel, x, y, z, chBegin, chEnd)
}

// ReleaseTile drops one pin on a tile acquired with AcquireTile.
func (c *Cache) ReleaseTile(pt *Perthread, t Tile) error {
	return c.core.ReleaseTile(pt, t)
}

// TilePixels returns a read-only view of a pinned tile's pixels and their
// stored format. The view is valid until the tile is released.
func (c *Cache) TilePixels(t Tile) ([]byte, PixelFormat) {
	return c.core.TilePixels(t)
}

// TileRegion returns the region the tile's pixel buffer covers.
func (c *Cache) TileRegion(t Tile) Region {
	return c.core.TileRegion(t)
}

// TileChannels returns the number of channels the tile stores.
func (c *Cache) TileChannels(t Tile) int {
	return c.core.TileChannels(t)
}

// Invalidate drops cached state for one file. With force false the file is
// only invalidated when it changed on disk.
func (c *Cache) Invalidate(pt *Perthread, f File, force bool) error {
	return c.core.Invalidate(pt, f, force)
}

// InvalidateAll invalidates every known file and clears the filename
// resolution memo.
func (c *Cache) InvalidateAll(pt *Perthread, force bool) error {
	return c.core.InvalidateAll(pt, force)
}

// CloseFile releases the file's OS handle without touching cached tiles or
// metadata.
func (c *Cache) CloseFile(pt *Perthread, f File) error {
	return c.core.CloseFile(pt, f)
}

// CloseAll releases every open OS handle without touching cached state.
func (c *Cache) CloseAll() error {
	return c.core.CloseAll()
}

// Attribute sets a named runtime option. It returns false for unknown names
// or mismatched types.
func (c *Cache) Attribute(name string, value any) bool {
	return c.core.Attribute(name, value)
}

// GetAttribute reads a named option or statistic into out, which must be a
// pointer of the matching type.
func (c *Cache) GetAttribute(name string, out any) bool {
	return c.core.GetAttribute(name, out)
}

// IsDuplicate reports whether the file was aliased to another by content
// fingerprint deduplication.
func (c *Cache) IsDuplicate(f File) bool {
	return c.core.IsDuplicate(f)
}

// TotalFiles returns the number of distinct filenames seen.
func (c *Cache) TotalFiles() int {
	return c.core.TotalFiles()
}

// AllFilenames returns every requested filename, sorted.
func (c *Cache) AllFilenames() []string {
	return c.core.AllFilenames()
}

// Stats returns a snapshot of aggregate cache statistics.
func (c *Cache) Stats() metrics.Snapshot {
	return c.core.Stats()
}

// FileStats returns per-file statistics for one handle.
func (c *Cache) FileStats(f File) FileStats {
	return c.core.FileStatsFor(f)
}

// AllFileStats returns statistics for every known file.
func (c *Cache) AllFileStats() []FileStats {
	return c.core.AllFileStats()
}

// ResetStats zeroes running counters without touching cached data.
func (c *Cache) ResetStats() {
	c.core.ResetStats()
}

// StatsSummary renders a human-readable statistics report.
func (c *Cache) StatsSummary() string {
	return c.core.Stats().Summary()
}

// HasPendingError reports whether diagnostics are queued on pt, or globally
// when pt is nil.
func (c *Cache) HasPendingError(pt *Perthread) bool {
	return c.core.HasPendingError(pt)
}

// GetError returns queued diagnostics joined by newlines, clearing them when
// clear is set.
func (c *Cache) GetError(pt *Perthread, clear bool) string {
	return c.core.DrainErrors(pt, clear)
}

// Logger returns the cache's structured logger.
func (c *Cache) Logger() *slog.Logger {
	return c.core.Logger()
}

// Destroy tears the cache down and releases all resources. Operations after
// Destroy fail with ErrClosed.
func (c *Cache) Destroy() error {
	return c.core.Destroy()
}
