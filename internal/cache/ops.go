package cache

import (
	"github.com/LavishGent/tilecache/internal/types"
)

// FileHandle is the opaque, stable identity of a file record. It stays valid
// until cache teardown; it is never dereferenceable by callers.
type FileHandle = *fileRecord

// TileHandle is a borrowed reference to a cached tile, valid from acquire
// until the matching release.
type TileHandle = *tile

// withPerthread supplies the pool-backed convenience context when the caller
// passes none.
func (c *Core) withPerthread(pt *Perthread) (*Perthread, func()) {
	if pt != nil {
		return pt, func() {}
	}
	b := c.borrowPerthread()
	return b, func() { c.returnPerthread(b) }
}

// Resolve returns the handle for a requested filename, applying search-path
// logic on first sight. Idempotent per name.
func (c *Core) Resolve(pt *Perthread, name string) (FileHandle, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	pt, done := c.withPerthread(pt)
	defer done()

	if rec, ok := pt.memoFile(name); ok {
		rec.lastUse.Store(c.tick())
		return rec, nil
	}
	rec, err := c.files.resolve(pt, name)
	if err != nil {
		return nil, err
	}
	pt.rememberFile(name, rec)
	return rec, nil
}

// Describe returns the spec of one subimage/miplevel, opening the file on
// first use.
func (c *Core) Describe(pt *Perthread, f FileHandle, subimage, miplevel int) (types.ImageSpec, error) {
	if err := c.checkClosed(); err != nil {
		return types.ImageSpec{}, err
	}
	if f == nil {
		return types.ImageSpec{}, types.NewCacheError("describe", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()
	return c.files.describe(pt, f, subimage, miplevel)
}

// NumSubimages reports how many subimages the file holds.
func (c *Core) NumSubimages(pt *Perthread, f FileHandle) (int, error) {
	if err := c.checkClosed(); err != nil {
		return 0, err
	}
	if f == nil {
		return 0, types.NewCacheError("subimages", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()
	if err := c.files.ensureMeta(pt, f); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.meta), nil
}

// NumMipLevels reports how many mip levels a subimage has, including any
// synthesized by automip.
func (c *Core) NumMipLevels(pt *Perthread, f FileHandle, subimage int) (int, error) {
	if err := c.checkClosed(); err != nil {
		return 0, err
	}
	if f == nil {
		return 0, types.NewCacheError("miplevels", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()
	if err := c.files.ensureMeta(pt, f); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if subimage < 0 || subimage >= len(f.meta) {
		return 0, types.NewCacheError("miplevels", f.name, types.ErrSubimageOutOfRange)
	}
	return len(f.meta[subimage].levels), nil
}

// AcquireTile returns a pinned reference to the tile containing pixel
// (x, y, z) of the given subimage/miplevel and channel range. Every
// successful acquire must be matched by exactly one ReleaseTile.
func (c *Core) AcquireTile(pt *Perthread, f FileHandle, subimage, miplevel, x, y, z, chBegin, chEnd int) (TileHandle, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, types.NewCacheError("acquire", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()

	rec := f.master()
	if err := c.files.ensureMeta(pt, rec); err != nil {
		return nil, err
	}

	rec.mu.Lock()
	spec, err := rec.specLocked(subimage, miplevel)
	rec.mu.Unlock()
	if err != nil {
		c.fileError(pt, rec, err)
		return nil, err
	}

	if chBegin < 0 || chEnd > spec.Channels || chBegin >= chEnd {
		err := types.NewCacheError("acquire", rec.name, types.ErrChannelRange)
		c.fileError(pt, rec, err)
		return nil, err
	}
	if !spec.Region().Contains(x, y, z) {
		err := types.NewCacheError("acquire", rec.name, types.ErrTileOutOfRange)
		c.fileError(pt, rec, err)
		return nil, err
	}

	key := tileKeyFor(rec, &spec, subimage, miplevel, x, y, z, chBegin, chEnd)
	return c.acquireKey(pt, rec, key)
}

// acquireKey is the shared lookup path: per-thread memo first, then the
// sharded table, then coalesced population.
func (c *Core) acquireKey(pt *Perthread, rec *fileRecord, key tileKey) (*tile, error) {
	version := rec.version.Load()
	rec.lastUse.Store(c.tick())

	if t, ok := pt.memoTile(key); ok {
		if t.version == version {
			c.stats.RecordFindTile(false, false)
			t.lastUse.Store(c.tick())
			return t, nil
		}
		_ = c.tiles.release(pt, t) // stale memo entry
	}

	if t, ok := c.tiles.lookupPinned(key, version); ok {
		c.stats.RecordFindTile(true, false)
		pt.rememberTile(key, t)
		return t, nil
	}

	c.stats.RecordFindTile(true, true)
	t, err := c.tiles.acquire(pt, rec, key)
	if err != nil {
		return nil, err
	}
	pt.rememberTile(key, t)
	return t, nil
}

// ReleaseTile drops one pinned reference. Unbalanced releases fail safely.
func (c *Core) ReleaseTile(pt *Perthread, t TileHandle) error {
	if t == nil {
		err := types.NewCacheError("release", "", types.ErrUsage)
		c.queueError(pt, err.Error())
		return err
	}
	return c.tiles.release(pt, t)
}

// TilePixels returns a read-only view of the tile's pixel data and its
// stored format. The view stays valid until the tile is released.
func (c *Core) TilePixels(t TileHandle) ([]byte, types.PixelFormat) {
	if t == nil {
		return nil, types.FormatUnknown
	}
	return t.pixels, t.format
}

// TileRegion returns the full tile-shaped region the pixel buffer covers.
func (c *Core) TileRegion(t TileHandle) types.Region {
	if t == nil {
		return types.Region{}
	}
	return t.region
}

// TileChannels returns the number of channels the tile stores.
func (c *Core) TileChannels(t TileHandle) int {
	if t == nil {
		return 0
	}
	return t.channels
}

// IsDuplicate reports whether the file was aliased to an earlier record by
// content-fingerprint deduplication.
func (c *Core) IsDuplicate(f FileHandle) bool {
	return f != nil && f.isDuplicate()
}

// TotalFiles returns the number of distinct names the cache has seen.
func (c *Core) TotalFiles() int {
	return c.files.totalFiles()
}

// AllFilenames returns every requested filename, sorted.
func (c *Core) AllFilenames() []string {
	return c.files.allFilenames()
}

// FileStatsFor returns the per-file statistics snapshot.
func (c *Core) FileStatsFor(f FileHandle) FileStats {
	if f == nil {
		return FileStats{}
	}
	return f.statsSnapshot()
}

// AllFileStats returns statistics for every known file.
func (c *Core) AllFileStats() []FileStats {
	records := c.files.allRecords()
	out := make([]FileStats, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.statsSnapshot())
	}
	return out
}

// tileKeyFor aligns a pixel coordinate to the level's tile grid and builds
// the cache key.
func tileKeyFor(rec *fileRecord, spec *types.ImageSpec, subimage, miplevel, x, y, z, chBegin, chEnd int) tileKey {
	td := spec.TileDepth
	if td <= 0 {
		td = 1
	}
	return tileKey{
		fileID:   rec.id,
		subimage: subimage,
		miplevel: miplevel,
		x:        alignDown(x, spec.X, spec.TileWidth),
		y:        alignDown(y, spec.Y, spec.TileHeight),
		z:        alignDown(z, spec.Z, td),
		chBegin:  chBegin,
		chEnd:    chEnd,
	}
}

func alignDown(v, origin, step int) int {
	return origin + ((v-origin)/step)*step
}
