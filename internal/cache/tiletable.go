package cache

import (
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"golang.org/x/sync/singleflight"

	"github.com/LavishGent/tilecache/internal/types"
)

// tileTable is the sharded tile store. Shard membership comes from the
// xxhash of the key; pin counts and budget totals are atomics so pinning and
// eviction bookkeeping never take a table-wide lock.
type tileTable struct {
	core   *Core
	shards []tileShard
	mask   uint64

	// sf coalesces concurrent misses on one key: exactly one caller
	// decodes, the rest block until the population completes.
	sf singleflight.Group

	evictMu sync.Mutex
}

type tileShard struct {
	mu    sync.RWMutex
	tiles map[tileKey]*tile
}

func newTileTable(c *Core, nshards int) *tileTable {
	tt := &tileTable{
		core:   c,
		shards: make([]tileShard, nshards),
		mask:   uint64(nshards - 1),
	}
	for i := range tt.shards {
		tt.shards[i].tiles = make(map[tileKey]*tile)
	}
	return tt
}

func (tt *tileTable) shardFor(key tileKey) *tileShard {
	return &tt.shards[key.hash()&tt.mask]
}

func (tt *tileTable) peek(key tileKey) *tile {
	s := tt.shardFor(key)
	s.mu.RLock()
	t := s.tiles[key]
	s.mu.RUnlock()
	return t
}

// lookupPinned returns a pinned reference on a hit. Tiles from an older file
// version are invisible to new lookups.
func (tt *tileTable) lookupPinned(key tileKey, version int64) (*tile, bool) {
	t := tt.peek(key)
	if t == nil || t.version != version {
		return nil, false
	}
	if !t.tryPin() {
		return nil, false
	}
	t.lastUse.Store(tt.core.tick())
	return t, true
}

// acquire returns a pinned tile for the key, populating on miss with
// at-most-once semantics. populate runs on the winning caller's goroutine;
// losers block in singleflight until it completes.
func (tt *tileTable) acquire(pt *Perthread, rec *fileRecord, key tileKey) (*tile, error) {
	for {
		version := rec.version.Load()
		if t, ok := tt.lookupPinned(key, version); ok {
			return t, nil
		}

		start := time.Now()
		v, err, _ := tt.sf.Do(key.String(), func() (any, error) {
			// Re-check under coalescing: a just-finished population
			// by a previous winner satisfies us without decoding.
			if t := tt.peek(key); t != nil && t.version == rec.version.Load() {
				return t, nil
			}
			return tt.populate(pt, rec, key)
		})
		tt.core.stats.AddTileWaitTime(time.Since(start))
		if err != nil {
			return nil, err
		}

		t := v.(*tile)
		if t.version == rec.version.Load() && t.tryPin() {
			t.lastUse.Store(tt.core.tick())
			return t, nil
		}
		// The tile was invalidated or evicted before we could pin it;
		// go around and populate afresh.
	}
}

// populate decodes one tile and inserts it. The pixel buffer always covers
// the full tile shape; the part outside the data window stays zero-filled.
func (tt *tileTable) populate(pt *Perthread, rec *fileRecord, key tileKey) (*tile, error) {
	version := rec.version.Load()

	rec.mu.Lock()
	if !rec.metaValid {
		rec.mu.Unlock()
		if err := tt.core.files.ensureMeta(pt, rec); err != nil {
			return nil, err
		}
		rec.mu.Lock()
	}
	spec, err := rec.specLocked(key.subimage, key.miplevel)
	if err != nil {
		rec.mu.Unlock()
		return nil, err
	}
	nativeLevels := rec.meta[key.subimage].nativeLevels
	rec.mu.Unlock()

	full := fullTileRegion(&spec, key.x, key.y, key.z)
	channels := key.chEnd - key.chBegin
	stored := spec.Format
	if tt.core.opts.forceFloat.Load() {
		stored = types.FormatFloat32
	}

	buf := make([]byte, full.NumPixels()*channels*stored.Size())
	clamped := full.Intersect(spec.Region())

	if key.miplevel >= nativeLevels {
		err = tt.core.downsampleTile(pt, rec, key, &spec, full, clamped, stored, buf)
	} else {
		err = tt.readTile(pt, rec, key, &spec, full, clamped, stored, buf)
	}
	if err != nil {
		return nil, err
	}

	t := &tile{
		key:      key,
		pixels:   buf,
		format:   stored,
		region:   full,
		channels: channels,
		version:  version,
	}
	t.lastUse.Store(tt.core.tick())

	if rec.markSeen(key) {
		tt.core.stats.RedundantRead(t.bytes())
	}
	rec.tilesCreated.Add(1)

	tt.insert(t)
	tt.core.stats.TileCreated(t.bytes())
	tt.evictToBudget(key)
	return t, nil
}

// readTile decodes the in-window part of a tile from the file and lays it
// into the full-shape buffer, converting to the stored format if needed.
func (tt *tileTable) readTile(pt *Perthread, rec *fileRecord, key tileKey, spec *types.ImageSpec, full, clamped types.Region, stored types.PixelFormat, buf []byte) error {
	if clamped.Empty() {
		return nil
	}
	channels := key.chEnd - key.chBegin
	native := make([]byte, clamped.NumPixels()*channels*spec.Format.Size())
	if err := tt.core.files.readRegion(pt, rec, key.subimage, key.miplevel, clamped, key.chBegin, key.chEnd, native); err != nil {
		return err
	}
	blitRegion(native, spec.Format, clamped, buf, stored, full, clamped, channels)
	return nil
}

func (tt *tileTable) insert(t *tile) {
	s := tt.shardFor(t.key)
	s.mu.Lock()
	old := s.tiles[t.key]
	s.tiles[t.key] = t
	s.mu.Unlock()

	if old != nil {
		tt.retire(old)
	}
}

// retire accounts for a tile that has been removed from the map. Unpinned
// tiles are freed immediately; pinned ones stay readable for their holders
// and are freed by the final release.
func (tt *tileTable) retire(t *tile) {
	if t.tryTombstone() {
		tt.core.stats.TileFreed(t.bytes())
	} else {
		t.orphaned.Store(true)
	}
}

// release drops one pin. A stale or orphaned tile is freed by its last
// release; release itself never evicts a live tile.
func (tt *tileTable) release(pt *Perthread, t *tile) error {
	remaining := t.unpin()
	if remaining < 0 {
		// restore and report; the counter must never stay negative
		t.pins.Add(1)
		err := types.NewCacheError("release", "", types.ErrUnbalancedRelease)
		tt.core.queueError(pt, err.Error())
		return err
	}
	if remaining == 0 && t.orphaned.Load() && t.tryTombstone() {
		tt.core.stats.TileFreed(t.bytes())
	}
	return nil
}

// dropFile removes cached tiles of a record whose version predates
// beforeVersion. Pinned tiles are orphaned rather than freed.
func (tt *tileTable) dropFile(rec *fileRecord, beforeVersion int64) {
	for i := range tt.shards {
		s := &tt.shards[i]
		var doomed []*tile
		s.mu.Lock()
		for key, t := range s.tiles {
			if key.fileID == rec.id && t.version < beforeVersion {
				delete(s.tiles, key)
				doomed = append(doomed, t)
			}
		}
		s.mu.Unlock()
		for _, t := range doomed {
			tt.retire(t)
		}
	}
}

// dropAll empties the cache at teardown.
func (tt *tileTable) dropAll() {
	for i := range tt.shards {
		s := &tt.shards[i]
		s.mu.Lock()
		tiles := s.tiles
		s.tiles = make(map[tileKey]*tile)
		s.mu.Unlock()
		for _, t := range tiles {
			tt.retire(t)
		}
	}
}

// evictCandidate orders eviction victims by recency tick.
type evictCandidate struct {
	tick int64
	t    *tile
}

func (c *evictCandidate) Less(x llrb.Item) bool {
	return c.tick < x.(*evictCandidate).tick
}

const maxEvictCandidates = 64

// evictToBudget frees least-recently-used unpinned tiles until resident
// bytes drop to the memory budget or no eligible tile remains. The freshly
// populated tile is exempt so a miss storm cannot evict its own result
// before the waiters pin it.
func (tt *tileTable) evictToBudget(exclude tileKey) {
	limit := tt.core.opts.maxMemoryBytes.Load()
	if tt.core.stats.CacheBytes() <= limit {
		return
	}

	tt.evictMu.Lock()
	defer tt.evictMu.Unlock()

	for tt.core.stats.CacheBytes() > limit {
		tree := llrb.New()
		for i := range tt.shards {
			s := &tt.shards[i]
			s.mu.RLock()
			for key, t := range s.tiles {
				if key == exclude || t.pins.Load() != 0 {
					continue
				}
				tree.InsertNoReplace(&evictCandidate{tick: t.lastUse.Load(), t: t})
				if tree.Len() > maxEvictCandidates {
					tree.DeleteMax()
				}
			}
			s.mu.RUnlock()
		}
		if tree.Len() == 0 {
			// everything is pinned; the budget is transiently exceeded
			return
		}

		progress := false
		tree.AscendGreaterOrEqual(&evictCandidate{tick: -1 << 62}, func(item llrb.Item) bool {
			if tt.core.stats.CacheBytes() <= limit {
				return false
			}
			t := item.(*evictCandidate).t
			if !t.tryTombstone() {
				return true // pinned or already claimed since the scan
			}
			s := tt.shardFor(t.key)
			s.mu.Lock()
			if s.tiles[t.key] == t {
				delete(s.tiles, t.key)
			}
			s.mu.Unlock()
			tt.core.stats.TileFreed(t.bytes())
			progress = true
			return true
		})
		if !progress {
			return
		}
	}
}

// fullTileRegion computes the unclamped tile-shaped region whose grid cell
// contains (x, y, z).
func fullTileRegion(spec *types.ImageSpec, x, y, z int) types.Region {
	td := spec.TileDepth
	if td <= 0 {
		td = 1
	}
	return types.Region{
		XBegin: x, XEnd: x + spec.TileWidth,
		YBegin: y, YEnd: y + spec.TileHeight,
		ZBegin: z, ZEnd: z + td,
	}
}
