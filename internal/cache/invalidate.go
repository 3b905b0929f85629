package cache

import (
	"os"

	"github.com/LavishGent/tilecache/internal/types"
)

// Invalidate discards cached state for one file: the version counter is
// bumped, the OS handle is closed, and the file's cached tiles become
// invisible to new lookups. Tiles pinned by in-flight callers stay readable
// with their original data until released. When force is false the file is
// only invalidated if it changed on disk since it was opened.
func (c *Core) Invalidate(pt *Perthread, f FileHandle, force bool) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if f == nil {
		return types.NewCacheError("invalidate", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()
	c.invalidateRecord(pt, f, force)
	return nil
}

// InvalidateAll applies Invalidate to every known file and clears the
// filename-resolution memo.
func (c *Core) InvalidateAll(pt *Perthread, force bool) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	pt, done := c.withPerthread(pt)
	defer done()

	for _, rec := range c.files.allRecords() {
		c.invalidateRecord(pt, rec, force)
	}
	c.files.forgetResolution("")
	return nil
}

func (c *Core) invalidateRecord(pt *Perthread, rec *fileRecord, force bool) {
	if !force && !c.changedOnDisk(rec) {
		return
	}

	rec.mu.Lock()
	newVersion := rec.version.Add(1)
	c.files.closeHandle(rec)
	rec.metaValid = false
	rec.meta = nil
	rec.state = stateUnopened
	rec.brokenErr = nil
	rec.path = "" // re-resolve on next open; the file may have moved
	oldFingerprint := rec.fingerprint
	rec.fingerprint = ""
	rec.dupOf.Store(nil)
	rec.mu.Unlock()

	if oldFingerprint != "" {
		c.files.mu.Lock()
		if c.files.byFingerprint[oldFingerprint] == rec {
			delete(c.files.byFingerprint, oldFingerprint)
		}
		c.files.mu.Unlock()
	}

	c.tiles.dropFile(rec, newVersion)
	pt.forgetFile(rec)
	c.files.forgetResolution(rec.name)

	c.logger.Debug("Invalidated file", "file", rec.name, "version", newVersion)
}

// changedOnDisk compares the resolved path's mtime and size against the values
// captured at open time. A file that was never opened has nothing to
// invalidate unless forced.
func (c *Core) changedOnDisk(rec *fileRecord) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.metaValid || rec.path == "" {
		return false
	}
	if rec.mtime.IsZero() {
		// never stat-backed (virtual format); no on-disk identity to compare
		return false
	}
	fi, err := os.Stat(rec.path)
	if err != nil {
		return true // vanished counts as changed
	}
	return !fi.ModTime().Equal(rec.mtime) || fi.Size() != rec.fileSize
}

// CloseFile releases the file's OS handle only. Metadata and cached tiles
// stay valid; the handle is transparently reopened on the next read.
func (c *Core) CloseFile(pt *Perthread, f FileHandle) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if f == nil {
		return types.NewCacheError("close", "", types.ErrInvalidHandle)
	}
	c.files.closeHandle(f)
	return nil
}

// CloseAll releases every open OS handle without touching cached state.
// A lighter-weight way to give descriptors back than invalidation.
func (c *Core) CloseAll() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	for _, rec := range c.files.allRecords() {
		c.files.closeHandle(rec)
	}
	return nil
}
