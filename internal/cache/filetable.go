package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/opencontainers/go-digest"
	"github.com/petar/GoLLRB/llrb"

	"github.com/LavishGent/tilecache/internal/format"
	"github.com/LavishGent/tilecache/internal/types"
)

// fileTable resolves names to file records and manages the budget of open
// OS handles. Records are created once per requested name and live until
// cache teardown; only their OS handles come and go.
type fileTable struct {
	core *Core

	mu            sync.RWMutex
	byName        map[string]*fileRecord
	byFingerprint map[digest.Digest]*fileRecord
	openIndex     *llrb.LLRB // *openCandidate, ordered by open tick
	nextID        uint64

	// resolution memoizes search-path filename resolution. Bounded and
	// TTL'd; cleared on invalidation since files may move.
	resolution *bigcache.BigCache
}

// openCandidate indexes an open handle by the tick of its last (re)open.
// The least recently opened handle is the first eviction candidate.
type openCandidate struct {
	tick int64
	rec  *fileRecord
}

func (c *openCandidate) Less(x llrb.Item) bool {
	return c.tick < x.(*openCandidate).tick
}

func newFileTable(c *Core) (*fileTable, error) {
	ft := &fileTable{
		core:          c,
		byName:        make(map[string]*fileRecord),
		byFingerprint: make(map[digest.Digest]*fileRecord),
		openIndex:     llrb.New(),
	}

	rcfg := c.cfg.Resolution
	if rcfg.Enabled {
		bcConfig := bigcache.Config{
			Shards:             rcfg.Shards,
			LifeWindow:         rcfg.TTL,
			CleanWindow:        rcfg.CleanupInterval,
			MaxEntriesInWindow: 1000 * 10 * 60,
			MaxEntrySize:       1024,
			HardMaxCacheSize:   rcfg.MaxSizeMB,
			Verbose:            false,
		}
		bc, err := bigcache.New(context.Background(), bcConfig)
		if err != nil {
			return nil, err
		}
		ft.resolution = bc
	}
	return ft, nil
}

func (ft *fileTable) close() {
	ft.mu.Lock()
	records := make([]*fileRecord, 0, len(ft.byName))
	for _, rec := range ft.byName {
		records = append(records, rec)
	}
	ft.openIndex = llrb.New()
	ft.mu.Unlock()

	for _, rec := range records {
		rec.ioMu.Lock()
		if rec.input != nil {
			_ = rec.input.Close()
			rec.input = nil
			ft.core.stats.FileClosed()
		}
		rec.ioMu.Unlock()
	}

	if ft.resolution != nil {
		_ = ft.resolution.Close()
	}
}

// resolve returns the record for a requested name, creating it on first
// sight. A record poisoned by an earlier open failure fails fast here.
func (ft *fileTable) resolve(pt *Perthread, name string) (*fileRecord, error) {
	if name == "" {
		return nil, types.NewCacheError("resolve", name, types.ErrUsage)
	}

	ft.mu.RLock()
	rec := ft.byName[name]
	ft.mu.RUnlock()
	if rec == nil {
		path := ft.resolvePath(name)

		ft.mu.Lock()
		rec = ft.byName[name]
		if rec == nil {
			ft.nextID++
			rec = &fileRecord{name: name, id: ft.nextID, path: path}
			ft.byName[name] = rec
		}
		ft.mu.Unlock()
	}

	rec.lastUse.Store(ft.core.tick())

	rec.mu.Lock()
	broken := rec.state == stateBroken
	err := rec.brokenErr
	rec.mu.Unlock()
	if broken {
		if err == nil {
			err = types.NewCacheError("resolve", name, types.ErrBroken)
		}
		ft.core.fileError(pt, rec, err)
		return nil, err
	}
	return rec, nil
}

// resolvePath applies search-path logic to bare names. When nothing on the
// search path matches, the name itself is the path: existence is the format
// plugin's call, which keeps virtual (non-filesystem) formats workable.
// Search-path hits are memoized in the bounded resolution cache.
func (ft *fileTable) resolvePath(name string) string {
	if ft.resolution != nil {
		if v, err := ft.resolution.Get(name); err == nil {
			return string(v)
		}
	}

	if !filepath.IsAbs(name) && !strings.ContainsRune(name, os.PathSeparator) {
		for _, dir := range strings.Split(ft.core.opts.getSearchPath(), ":") {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				if ft.resolution != nil {
					_ = ft.resolution.Set(name, []byte(candidate))
				}
				return candidate
			}
		}
	}
	return name
}

// ensureMeta makes sure the record's metadata is loaded, opening the file on
// first use. Broken records short-circuit without touching the plugin.
func (ft *fileTable) ensureMeta(pt *Perthread, rec *fileRecord) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case rec.metaValid:
		return nil
	case rec.state == stateBroken:
		ft.core.fileError(pt, rec, rec.brokenErr)
		return rec.brokenErr
	}
	return ft.openLocked(pt, rec)
}

// openLocked performs the first open of a record: plugin open with retries,
// metadata capture, virtual tile/mip synthesis, dedup, and budget
// enforcement. Caller holds rec.mu.
func (ft *fileTable) openLocked(pt *Perthread, rec *fileRecord) error {
	opts := ft.core.opts
	if opts.maxOpenFilesStrict.Load() {
		ft.enforceHandleBudget(opts.maxOpenFiles.Load()-1, rec)
	}

	if rec.path == "" {
		// invalidation cleared the path; the file may have moved
		rec.path = ft.resolvePath(rec.name)
	}

	var in format.Input
	start := time.Now()
	err := ft.core.retry.Execute(int(opts.failureRetries.Load()), func() error {
		var openErr error
		in, openErr = format.Open(rec.path)
		return openErr
	})
	ft.core.stats.AddFileOpenTime(time.Since(start))

	if err != nil {
		rec.state = stateBroken
		rec.brokenErr = err
		ft.core.fileError(pt, rec, err)
		return err
	}

	if err := ft.buildMetaLocked(rec, in); err != nil {
		_ = in.Close()
		rec.state = stateBroken
		rec.brokenErr = err
		ft.core.fileError(pt, rec, err)
		return err
	}

	rec.ioMu.Lock()
	rec.input = in
	rec.ioMu.Unlock()
	rec.state = stateOpen
	rec.metaValid = true
	rec.opens.Add(1)
	ft.core.stats.FileOpened()
	ft.registerOpen(rec)

	if fi, err := os.Stat(rec.path); err == nil {
		rec.mtime = fi.ModTime()
		rec.fileSize = fi.Size()
	}

	if !rec.everOpened {
		rec.everOpened = true
		var imageBytes int64
		for _, sub := range rec.meta {
			for i := 0; i < sub.nativeLevels; i++ {
				imageBytes += sub.levels[i].ImageBytes()
			}
		}
		ft.core.stats.UniqueFile(imageBytes, rec.fileSize)
	}

	if opts.deduplicate.Load() {
		ft.dedupAfterOpen(rec)
	}

	if !opts.maxOpenFilesStrict.Load() {
		ft.enforceHandleBudget(opts.maxOpenFiles.Load(), rec)
	}
	return nil
}

// buildMetaLocked captures per-subimage/per-miplevel specs and synthesizes
// virtual tile shapes and mip levels according to the autotile, autoscanline,
// and automip options.
func (ft *fileTable) buildMetaLocked(rec *fileRecord, in format.Input) error {
	opts := ft.core.opts
	nsub := in.NumSubimages()
	if nsub <= 0 {
		return types.NewCacheError("open", rec.name, types.ErrCorruptHeader)
	}

	meta := make([]subimageMeta, nsub)
	for si := 0; si < nsub; si++ {
		nlevels := in.NumMipLevels(si)
		if nlevels <= 0 {
			return types.NewCacheError("open", rec.name, types.ErrCorruptHeader)
		}
		sub := subimageMeta{nativeLevels: nlevels}
		for mi := 0; mi < nlevels; mi++ {
			spec, err := in.Spec(si, mi)
			if err != nil {
				return err
			}
			if spec.Width <= 0 || spec.Height <= 0 || spec.Channels <= 0 || spec.Format.Size() == 0 {
				return types.NewCacheError("open", rec.name, types.ErrCorruptHeader)
			}
			sub.levels = append(sub.levels, spec)
		}

		sub.untiled = !sub.levels[0].Tiled()
		sub.unmipped = nlevels == 1

		if sub.untiled {
			if !opts.acceptUntiled.Load() {
				return types.NewCacheError("open", rec.name, types.ErrUntiledRejected)
			}
			synthesizeTiles(sub.levels, int(opts.autotile.Load()), opts.autoscanline.Load())
		}

		if sub.unmipped && opts.automip.Load() {
			if !opts.acceptUnmipped.Load() {
				return types.NewCacheError("open", rec.name, types.ErrUnmippedRejected)
			}
			sub.levels = appendMipChain(sub.levels)
		} else if sub.unmipped && !opts.acceptUnmipped.Load() {
			return types.NewCacheError("open", rec.name, types.ErrUnmippedRejected)
		}

		meta[si] = sub
	}

	rec.meta = meta
	rec.fingerprint = meta[0].levels[0].Fingerprint
	return nil
}

// synthesizeTiles gives untiled levels a virtual tile shape: autotile-sized
// squares, full-width strips for autoscanline, or the whole image when
// autotile is off.
func synthesizeTiles(levels []types.ImageSpec, autotile int, autoscanline bool) {
	for i := range levels {
		s := &levels[i]
		switch {
		case autotile > 0 && autoscanline:
			s.TileWidth = s.Width
			s.TileHeight = min(autotile, s.Height)
		case autotile > 0:
			s.TileWidth = min(autotile, s.Width)
			s.TileHeight = min(autotile, s.Height)
		default:
			s.TileWidth = s.Width
			s.TileHeight = s.Height
		}
		s.TileDepth = max(1, s.Depth)
	}
}

// appendMipChain extends a single-level subimage with synthesized levels
// halving each dimension down to 1x1. The synthesized levels have no on-disk
// counterpart; population downsamples from the level above.
func appendMipChain(levels []types.ImageSpec) []types.ImageSpec {
	base := levels[len(levels)-1]
	w, h := base.Width, base.Height
	for w > 1 || h > 1 {
		w = max(1, w/2)
		h = max(1, h/2)
		s := base
		s.Width, s.Height = w, h
		s.X, s.Y = 0, 0
		s.TileWidth = min(base.TileWidth, w)
		s.TileHeight = min(base.TileHeight, h)
		levels = append(levels, s)
	}
	return levels
}

// dedupAfterOpen aliases the record to an earlier one carrying the same
// content fingerprint. The duplicate keeps its own metadata but contributes
// no tiles; its handle is released immediately.
func (ft *fileTable) dedupAfterOpen(rec *fileRecord) {
	if rec.fingerprint == "" {
		return
	}

	ft.mu.Lock()
	existing := ft.byFingerprint[rec.fingerprint]
	if existing == nil {
		ft.byFingerprint[rec.fingerprint] = rec
		ft.mu.Unlock()
		return
	}
	ft.mu.Unlock()

	if existing == rec {
		return
	}
	master := existing.master()
	rec.dupOf.Store(master)
	ft.core.logger.Debug("Deduplicated file",
		"file", rec.name,
		"master", master.name,
		"fingerprint", rec.fingerprint)

	// The alias will never serve tile reads; give its handle back.
	ft.closeHandle(rec)
}

// registerOpen records a newly opened handle in the eviction index.
func (ft *fileTable) registerOpen(rec *fileRecord) {
	tick := ft.core.tick()
	ft.mu.Lock()
	rec.lastOpenTick.Store(tick)
	ft.openIndex.InsertNoReplace(&openCandidate{tick: tick, rec: rec})
	ft.mu.Unlock()
}

// closeHandle releases a record's OS handle, keeping metadata and tiles.
func (ft *fileTable) closeHandle(rec *fileRecord) {
	rec.ioMu.Lock()
	ft.closeHandleHeld(rec)
	rec.ioMu.Unlock()
}

// closeHandleHeld is closeHandle with rec.ioMu already held.
func (ft *fileTable) closeHandleHeld(rec *fileRecord) {
	if rec.input == nil {
		return
	}
	_ = rec.input.Close()
	rec.input = nil
	ft.core.stats.FileClosed()

	ft.mu.Lock()
	ft.openIndex.Delete(&openCandidate{tick: rec.lastOpenTick.Load()})
	ft.mu.Unlock()
}

// enforceHandleBudget closes least-recently-opened handles until at most
// target remain. Records with in-flight I/O are skipped; keep is never
// touched. Transient overage while everything is busy is allowed.
func (ft *fileTable) enforceHandleBudget(target int64, keep *fileRecord) {
	if target < 0 {
		target = 0
	}
	busy := 0
	for ft.core.stats.OpensCurrent() > target && busy < 8 {
		victim := ft.pickHandleVictim(keep)
		if victim == nil {
			return
		}
		if !victim.ioMu.TryLock() {
			// busy reading; push it to the back of the index and move on
			busy++
			ft.mu.Lock()
			ft.openIndex.Delete(&openCandidate{tick: victim.lastOpenTick.Load()})
			ft.mu.Unlock()
			ft.registerOpen(victim)
			continue
		}
		if victim.input != nil {
			_ = victim.input.Close()
			victim.input = nil
			ft.core.stats.FileClosed()
		}
		ft.mu.Lock()
		ft.openIndex.Delete(&openCandidate{tick: victim.lastOpenTick.Load()})
		ft.mu.Unlock()
		victim.ioMu.Unlock()
	}
}

func (ft *fileTable) pickHandleVictim(keep *fileRecord) *fileRecord {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	var victim *fileRecord
	ft.openIndex.AscendGreaterOrEqual(&openCandidate{tick: -1 << 62}, func(item llrb.Item) bool {
		cand := item.(*openCandidate)
		if cand.rec == keep {
			return true
		}
		victim = cand.rec
		return false
	})
	return victim
}

// withInput runs fn with the record's open plugin handle, transparently
// reopening a handle that was closed under budget pressure. The reopen
// counts as an extra open in statistics.
func (ft *fileTable) withInput(pt *Perthread, rec *fileRecord, fn func(format.Input) error) error {
	opts := ft.core.opts

	// Snapshot the resolved path before taking ioMu: invalidation resets
	// rec.path under rec.mu, which may never be acquired inside ioMu.
	rec.mu.Lock()
	path := rec.path
	if path == "" {
		path = ft.resolvePath(rec.name)
		rec.path = path
	}
	rec.mu.Unlock()

	rec.ioMu.Lock()
	if rec.input == nil {
		if opts.maxOpenFilesStrict.Load() {
			ft.enforceHandleBudget(opts.maxOpenFiles.Load()-1, rec)
		}
		var in format.Input
		start := time.Now()
		err := ft.core.retry.Execute(int(opts.failureRetries.Load()), func() error {
			var openErr error
			in, openErr = format.Open(path)
			return openErr
		})
		ft.core.stats.AddFileOpenTime(time.Since(start))
		if err != nil {
			rec.ioMu.Unlock()
			ft.core.fileError(pt, rec, err)
			return err
		}
		rec.input = in
		rec.opens.Add(1)
		ft.core.stats.FileOpened()
		ft.registerOpen(rec)
	}
	in := rec.input
	err := fn(in)
	rec.ioMu.Unlock()

	if !opts.maxOpenFilesStrict.Load() {
		ft.enforceHandleBudget(opts.maxOpenFiles.Load(), rec)
	}
	return err
}

// readRegion decodes a region through the record's plugin, with transient
// retries, timing, and per-file accounting.
func (ft *fileTable) readRegion(pt *Perthread, rec *fileRecord, subimage, miplevel int, region types.Region, chBegin, chEnd int, dst []byte) error {
	retries := int(ft.core.opts.failureRetries.Load())
	err := ft.withInput(pt, rec, func(in format.Input) error {
		start := time.Now()
		readErr := ft.core.retry.Execute(retries, func() error {
			return in.ReadRegion(subimage, miplevel, region, chBegin, chEnd, dst)
		})
		elapsed := time.Since(start)
		rec.ioNanos.Add(int64(elapsed))
		ft.core.stats.AddFileIOTime(elapsed)
		return readErr
	})
	if err != nil {
		ft.core.fileError(pt, rec, err)
		return err
	}
	n := int64(len(dst))
	rec.bytesRead.Add(n)
	ft.core.stats.ReadBytes(n)
	return nil
}

func (ft *fileTable) totalFiles() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.byName)
}

func (ft *fileTable) allFilenames() []string {
	ft.mu.RLock()
	names := make([]string, 0, len(ft.byName))
	for name := range ft.byName {
		names = append(names, name)
	}
	ft.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (ft *fileTable) allRecords() []*fileRecord {
	ft.mu.RLock()
	records := make([]*fileRecord, 0, len(ft.byName))
	for _, rec := range ft.byName {
		records = append(records, rec)
	}
	ft.mu.RUnlock()
	return records
}

func (ft *fileTable) lookup(name string) *fileRecord {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.byName[name]
}

// forgetResolution drops memoized resolution state, used by invalidation.
func (ft *fileTable) forgetResolution(name string) {
	if ft.resolution == nil {
		return
	}
	if name == "" {
		_ = ft.resolution.Reset()
		return
	}
	_ = ft.resolution.Delete(name)
}

// describe returns the spec for one subimage/miplevel, opening on demand.
func (ft *fileTable) describe(pt *Perthread, rec *fileRecord, subimage, miplevel int) (types.ImageSpec, error) {
	if err := ft.ensureMeta(pt, rec); err != nil {
		return types.ImageSpec{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	spec, err := rec.specLocked(subimage, miplevel)
	if err != nil {
		ft.core.fileError(pt, rec, err)
		return types.ImageSpec{}, err
	}
	return spec, nil
}
