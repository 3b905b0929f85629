package cache

// Perthread is the thread-confined fast path: a single-entry memo of the
// most recently touched file record and tile, plus the pending diagnostic
// list. It must never be used from two goroutines at once.
//
// The memoized tile pointer does not hold a pin. A memo hit re-pins through
// the tile's atomic counter, so an entry that eviction tombstoned in the
// meantime simply falls through to the shared tables.
type Perthread struct {
	lastFileName string
	lastFile     *fileRecord

	lastKey  tileKey
	lastTile *tile

	errs []string
}

// NewPerthread creates a caller-managed per-thread context.
func NewPerthread() *Perthread {
	return &Perthread{}
}

// Reset clears the memo and pending errors, e.g. before reusing the context
// on another goroutine.
func (pt *Perthread) Reset() {
	*pt = Perthread{}
}

func (pt *Perthread) rememberFile(name string, rec *fileRecord) {
	pt.lastFileName = name
	pt.lastFile = rec
}

func (pt *Perthread) memoFile(name string) (*fileRecord, bool) {
	if pt.lastFile != nil && pt.lastFileName == name {
		return pt.lastFile, true
	}
	return nil, false
}

func (pt *Perthread) rememberTile(key tileKey, t *tile) {
	pt.lastKey = key
	pt.lastTile = t
}

// memoTile returns a pinned tile on a memo hit. The validity check against
// the owning record's version is the caller's job.
func (pt *Perthread) memoTile(key tileKey) (*tile, bool) {
	t := pt.lastTile
	if t == nil || pt.lastKey != key {
		return nil, false
	}
	if !t.tryPin() {
		pt.lastTile = nil
		return nil, false
	}
	return t, true
}

// forgetFile drops memo entries for a record, used during invalidation.
func (pt *Perthread) forgetFile(rec *fileRecord) {
	if pt.lastFile == rec {
		pt.lastFile = nil
		pt.lastFileName = ""
	}
	if t := pt.lastTile; t != nil && t.key.fileID == rec.id {
		pt.lastTile = nil
	}
}

func (pt *Perthread) queueError(msg string) {
	pt.errs = append(pt.errs, msg)
}

func (pt *Perthread) hasErrors() bool {
	return len(pt.errs) > 0
}

func (pt *Perthread) peekErrors() []string {
	return pt.errs
}

func (pt *Perthread) takeErrors() []string {
	errs := pt.errs
	pt.errs = nil
	return errs
}
