// Package format defines the decode-plugin capability consumed by the cache
// core and the extension registry that dispatches files to plugins.
//
// The core never assumes a specific encoding; a plugin only has to describe
// its subimages and mip levels and read rectangular pixel regions.
package format

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LavishGent/tilecache/internal/types"
)

// Input is the per-file decode capability. Implementations do not need to be
// safe for concurrent use; the cache core serializes access to each open
// input.
type Input interface {
	// NumSubimages returns the number of subimages in the file.
	NumSubimages() int

	// NumMipLevels returns the number of mip levels of a subimage.
	NumMipLevels(subimage int) int

	// Spec describes one subimage/miplevel.
	Spec(subimage, miplevel int) (types.ImageSpec, error)

	// ReadRegion decodes the given region of a subimage/miplevel for
	// channels [chBegin, chEnd) into dst, row-major, native pixel format.
	// The region must lie within the level's data window.
	ReadRegion(subimage, miplevel int, region types.Region, chBegin, chEnd int, dst []byte) error

	Close() error
}

// Opener opens a file and returns its decode capability.
type Opener func(path string) (Input, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register associates a filename extension (without the leading dot, case
// insensitive) with an opener. Later registrations replace earlier ones.
func Register(ext string, opener Opener) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	registryMu.Lock()
	registry[ext] = opener
	registryMu.Unlock()
}

// Unregister removes a registered extension. Mainly useful in tests.
func Unregister(ext string) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	registryMu.Lock()
	delete(registry, ext)
	registryMu.Unlock()
}

// OpenerFor returns the opener registered for the path's extension.
func OpenerFor(path string) (Opener, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	registryMu.RLock()
	opener, ok := registry[ext]
	registryMu.RUnlock()
	return opener, ok
}

// Open dispatches the path to the registered plugin for its extension.
func Open(path string) (Input, error) {
	opener, ok := OpenerFor(path)
	if !ok {
		return nil, types.NewCacheError("open", path, types.ErrFormatUnsupported)
	}
	return opener(path)
}

// Extensions returns the registered extensions, sorted.
func Extensions() []string {
	registryMu.RLock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	registryMu.RUnlock()
	sort.Strings(exts)
	return exts
}
