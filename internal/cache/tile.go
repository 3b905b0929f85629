package cache

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/LavishGent/tilecache/internal/types"
)

// tileKey identifies one cached tile. The origin coordinates are always
// aligned to the level's tile grid before a key is formed.
type tileKey struct {
	fileID   uint64
	subimage int
	miplevel int
	x, y, z  int
	chBegin  int
	chEnd    int
}

// hash returns the xxhash of the packed key, used to pick a shard.
func (k tileKey) hash() uint64 {
	var buf [64]byte
	binary.LittleEndian.PutUint64(buf[0:], k.fileID)
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.subimage))
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.miplevel))
	binary.LittleEndian.PutUint64(buf[24:], uint64(int64(k.x)))
	binary.LittleEndian.PutUint64(buf[32:], uint64(int64(k.y)))
	binary.LittleEndian.PutUint64(buf[40:], uint64(int64(k.z)))
	binary.LittleEndian.PutUint64(buf[48:], uint64(k.chBegin))
	binary.LittleEndian.PutUint64(buf[56:], uint64(k.chEnd))
	return xxhash.Sum64(buf[:])
}

// String is used as the singleflight coalescing key.
func (k tileKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d,%d,%d/%d-%d",
		k.fileID, k.subimage, k.miplevel, k.x, k.y, k.z, k.chBegin, k.chEnd)
}

// tombstoned marks a tile that eviction has claimed; it can never be pinned
// again and is no longer reachable from the shard map.
const tombstoned = -1

// tile holds one decoded pixel block. The pixel buffer covers the full tile
// shape; the part outside the image's data window is zero-filled.
type tile struct {
	key      tileKey
	pixels   []byte
	format   types.PixelFormat
	region   types.Region // full tile-shaped region, unclamped
	channels int

	// version is the owning file record's version at population time.
	// A bumped record version makes the tile stale for new lookups.
	version int64

	pins    atomic.Int32
	lastUse atomic.Int64

	// orphaned marks a tile removed from the shard map while still
	// pinned; the final release frees its accounting.
	orphaned atomic.Bool
}

func (t *tile) bytes() int64 {
	return int64(len(t.pixels))
}

// tryPin takes a reference unless the tile has been tombstoned.
func (t *tile) tryPin() bool {
	for {
		cur := t.pins.Load()
		if cur == tombstoned {
			return false
		}
		if t.pins.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// unpin drops one reference and returns the remaining count.
func (t *tile) unpin() int32 {
	return t.pins.Add(-1)
}

// tryTombstone claims an unpinned tile for eviction.
func (t *tile) tryTombstone() bool {
	return t.pins.CompareAndSwap(0, tombstoned)
}

// sampleBytes returns the byte size of one channel sample.
func (t *tile) sampleBytes() int {
	return t.format.Size()
}

// rowBytes returns the byte size of one full row of the tile.
func (t *tile) rowBytes() int {
	return t.region.Width() * t.channels * t.sampleBytes()
}
