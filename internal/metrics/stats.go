// Package metrics provides the cache's statistics aggregator and optional
// metric publishing.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tunabay/go-infounit"
)

// Stats accumulates monotonically increasing counters and cumulative timers
// for the whole cache. All fields are updated with atomics; no lock is ever
// held while recording.
type Stats struct {
	findTileCalls       atomic.Int64
	findTileMicroMisses atomic.Int64
	findTileCacheMisses atomic.Int64

	tilesCreated atomic.Int64
	tilesCurrent atomic.Int64
	tilesPeak    atomic.Int64

	cacheBytes     atomic.Int64
	cacheBytesPeak atomic.Int64

	opensCreated atomic.Int64
	opensCurrent atomic.Int64
	opensPeak    atomic.Int64

	uniqueFiles    atomic.Int64
	bytesRead      atomic.Int64
	redundantTiles atomic.Int64
	redundantBytes atomic.Int64

	fileIONanos   atomic.Int64
	fileOpenNanos atomic.Int64
	tileWaitNanos atomic.Int64

	imageSizeBytes atomic.Int64
	fileSizeBytes  atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FindTileCalls       int64
	FindTileMicroMisses int64
	FindTileCacheMisses int64
	TilesCreated        int64
	TilesCurrent        int64
	TilesPeak           int64
	CacheBytes          int64
	CacheBytesPeak      int64
	OpensCreated        int64
	OpensCurrent        int64
	OpensPeak           int64
	UniqueFiles         int64
	BytesRead           int64
	RedundantTiles      int64
	RedundantBytes      int64
	FileIOTime          time.Duration
	FileOpenTime        time.Duration
	TileWaitTime        time.Duration
	ImageSizeBytes      int64
	FileSizeBytes       int64
}

func NewStats() *Stats {
	return &Stats{}
}

// RecordFindTile counts one tile lookup and where it was satisfied.
func (s *Stats) RecordFindTile(microMiss, cacheMiss bool) {
	s.findTileCalls.Add(1)
	if microMiss {
		s.findTileMicroMisses.Add(1)
	}
	if cacheMiss {
		s.findTileCacheMisses.Add(1)
	}
}

// TileCreated records a populated tile entering residency.
func (s *Stats) TileCreated(bytes int64) {
	s.tilesCreated.Add(1)
	cur := s.tilesCurrent.Add(1)
	updatePeak(&s.tilesPeak, cur)
	total := s.cacheBytes.Add(bytes)
	updatePeak(&s.cacheBytesPeak, total)
}

// TileFreed records a tile leaving residency (eviction or invalidation).
func (s *Stats) TileFreed(bytes int64) {
	s.tilesCurrent.Add(-1)
	s.cacheBytes.Add(-bytes)
}

// CacheBytes returns the resident tile byte total. The eviction loop uses
// this same counter as the budget gauge.
func (s *Stats) CacheBytes() int64 {
	return s.cacheBytes.Load()
}

// TilesCurrent returns the number of resident tiles.
func (s *Stats) TilesCurrent() int64 {
	return s.tilesCurrent.Load()
}

// FileOpened records one successful plugin open.
func (s *Stats) FileOpened() {
	s.opensCreated.Add(1)
	cur := s.opensCurrent.Add(1)
	updatePeak(&s.opensPeak, cur)
}

// FileClosed records an OS handle being released.
func (s *Stats) FileClosed() {
	s.opensCurrent.Add(-1)
}

// OpensCurrent returns the number of currently open handles.
func (s *Stats) OpensCurrent() int64 {
	return s.opensCurrent.Load()
}

// UniqueFile records the first successful open of a distinct file, with its
// uncompressed image size and on-disk size.
func (s *Stats) UniqueFile(imageBytes, fileBytes int64) {
	s.uniqueFiles.Add(1)
	s.imageSizeBytes.Add(imageBytes)
	s.fileSizeBytes.Add(fileBytes)
}

// ReadBytes records bytes decoded from a file.
func (s *Stats) ReadBytes(n int64) {
	s.bytesRead.Add(n)
}

// RedundantRead records a decode whose result duplicated data already read,
// e.g. re-population of an evicted or invalidated tile.
func (s *Stats) RedundantRead(n int64) {
	s.redundantTiles.Add(1)
	s.redundantBytes.Add(n)
}

// AddFileIOTime accumulates time spent inside plugin region reads.
func (s *Stats) AddFileIOTime(d time.Duration) {
	s.fileIONanos.Add(int64(d))
}

// AddFileOpenTime accumulates time spent inside plugin opens.
func (s *Stats) AddFileOpenTime(d time.Duration) {
	s.fileOpenNanos.Add(int64(d))
}

// AddTileWaitTime accumulates time spent blocked on coalesced tile
// population, whether decoding or waiting for another caller's decode.
func (s *Stats) AddTileWaitTime(d time.Duration) {
	s.tileWaitNanos.Add(int64(d))
}

// Snapshot returns a consistent-enough copy of all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FindTileCalls:       s.findTileCalls.Load(),
		FindTileMicroMisses: s.findTileMicroMisses.Load(),
		FindTileCacheMisses: s.findTileCacheMisses.Load(),
		TilesCreated:        s.tilesCreated.Load(),
		TilesCurrent:        s.tilesCurrent.Load(),
		TilesPeak:           s.tilesPeak.Load(),
		CacheBytes:          s.cacheBytes.Load(),
		CacheBytesPeak:      s.cacheBytesPeak.Load(),
		OpensCreated:        s.opensCreated.Load(),
		OpensCurrent:        s.opensCurrent.Load(),
		OpensPeak:           s.opensPeak.Load(),
		UniqueFiles:         s.uniqueFiles.Load(),
		BytesRead:           s.bytesRead.Load(),
		RedundantTiles:      s.redundantTiles.Load(),
		RedundantBytes:      s.redundantBytes.Load(),
		FileIOTime:          time.Duration(s.fileIONanos.Load()),
		FileOpenTime:        time.Duration(s.fileOpenNanos.Load()),
		TileWaitTime:        time.Duration(s.tileWaitNanos.Load()),
		ImageSizeBytes:      s.imageSizeBytes.Load(),
		FileSizeBytes:       s.fileSizeBytes.Load(),
	}
}

// Reset zeroes the running counters and timers. Gauges that reflect live
// state (resident tiles, open handles, memory in use) are left alone; peaks
// collapse to the current values.
func (s *Stats) Reset() {
	s.findTileCalls.Store(0)
	s.findTileMicroMisses.Store(0)
	s.findTileCacheMisses.Store(0)
	s.tilesCreated.Store(0)
	s.tilesPeak.Store(s.tilesCurrent.Load())
	s.cacheBytesPeak.Store(s.cacheBytes.Load())
	s.opensCreated.Store(0)
	s.opensPeak.Store(s.opensCurrent.Load())
	s.bytesRead.Store(0)
	s.redundantTiles.Store(0)
	s.redundantBytes.Store(0)
	s.fileIONanos.Store(0)
	s.fileOpenNanos.Store(0)
	s.tileWaitNanos.Store(0)
}

// Summary renders a one-line overview for logging.
func (snap Snapshot) Summary() string {
	return fmt.Sprintf("tiles %d/%d peak %d, resident %.1f, opens %d (cur %d peak %d), read %.1f, io %v",
		snap.TilesCurrent, snap.TilesCreated, snap.TilesPeak,
		infounit.ByteCount(max(snap.CacheBytes, 0)),
		snap.OpensCreated, snap.OpensCurrent, snap.OpensPeak,
		infounit.ByteCount(max(snap.BytesRead, 0)),
		snap.FileIOTime.Round(time.Millisecond))
}

func updatePeak(peak *atomic.Int64, v int64) {
	for {
		cur := peak.Load()
		if v <= cur || peak.CompareAndSwap(cur, v) {
			return
		}
	}
}
