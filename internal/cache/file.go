package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LavishGent/tilecache/internal/format"
	"github.com/LavishGent/tilecache/internal/types"
)

type fileState int32

const (
	stateUnopened fileState = iota
	stateOpen
	stateBroken
)

func (s fileState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	case stateBroken:
		return "broken"
	default:
		return "invalid"
	}
}

// subimageMeta holds the cached metadata of one subimage. Specs beyond
// nativeLevels are synthesized mip levels (automip).
type subimageMeta struct {
	levels       []types.ImageSpec
	nativeLevels int
	untiled      bool
	unmipped     bool
}

// fileRecord is the file table's per-file state. The record itself lives
// until cache teardown; the OS handle and the decoded metadata have their
// own lifecycles inside it.
type fileRecord struct {
	name string // as requested by the caller
	id   uint64

	// mu guards everything below except the atomics.
	mu           sync.Mutex
	path         string // resolved; empty until resolution succeeds
	state        fileState
	input        format.Input // non-nil only while the OS handle is open
	meta         []subimageMeta
	metaValid    bool // metadata survives handle closure
	fingerprint  digest.Digest
	brokenErr    error
	mtime      time.Time
	fileSize   int64
	everOpened bool // first successful open already counted in unique-file stats

	// seen records tile keys populated before, to spot redundant decodes.
	seen map[tileKey]struct{}

	// ioMu serializes plugin I/O; handle eviction only closes a handle it
	// can claim without blocking behind a read.
	ioMu sync.Mutex

	version      atomic.Int64
	errorCount   atomic.Int64
	lastUse      atomic.Int64
	lastOpenTick atomic.Int64

	// dupOf aliases the record to the master holding the same fingerprint.
	// Atomic because master() runs on the lock-free acquire path while
	// dedup and invalidation rewrite it.
	dupOf atomic.Pointer[fileRecord]

	// per-file statistics
	opens        atomic.Int64
	bytesRead    atomic.Int64
	tilesCreated atomic.Int64
	ioNanos      atomic.Int64
}

// master resolves deduplication aliasing: tile traffic for a duplicate file
// is redirected to the record that was opened first.
func (f *fileRecord) master() *fileRecord {
	if d := f.dupOf.Load(); d != nil {
		return d
	}
	return f
}

// isDuplicate reports whether this record is aliased to another file's.
func (f *fileRecord) isDuplicate() bool {
	return f.dupOf.Load() != nil
}

// specLocked returns the spec of one subimage/miplevel. Caller holds f.mu
// and has ensured metadata is valid.
func (f *fileRecord) specLocked(subimage, miplevel int) (types.ImageSpec, error) {
	if subimage < 0 || subimage >= len(f.meta) {
		return types.ImageSpec{}, types.NewCacheError("spec", f.name, types.ErrSubimageOutOfRange)
	}
	levels := f.meta[subimage].levels
	if miplevel < 0 || miplevel >= len(levels) {
		return types.ImageSpec{}, types.NewCacheError("spec", f.name, types.ErrSubimageOutOfRange)
	}
	return levels[miplevel], nil
}

// markSeen records that a tile key has been populated for this file and
// reports whether it had been populated before (a redundant decode).
func (f *fileRecord) markSeen(key tileKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[tileKey]struct{})
	}
	if _, ok := f.seen[key]; ok {
		return true
	}
	f.seen[key] = struct{}{}
	return false
}

// FileStats is the per-file statistics snapshot.
type FileStats struct {
	Name         string
	Opens        int64
	BytesRead    int64
	TilesCreated int64
	IOTime       time.Duration
	Errors       int64
	Duplicate    bool
	Broken       bool
}

func (f *fileRecord) statsSnapshot() FileStats {
	f.mu.Lock()
	broken := f.state == stateBroken
	f.mu.Unlock()
	dup := f.isDuplicate()
	return FileStats{
		Name:         f.name,
		Opens:        f.opens.Load(),
		BytesRead:    f.bytesRead.Load(),
		TilesCreated: f.tilesCreated.Load(),
		IOTime:       time.Duration(f.ioNanos.Load()),
		Errors:       f.errorCount.Load(),
		Duplicate:    dup,
		Broken:       broken,
	}
}
