package tilecache

import (
	"github.com/LavishGent/tilecache/internal/cache"
	"github.com/LavishGent/tilecache/internal/format"
	"github.com/LavishGent/tilecache/internal/types"
)

type (
	// File is the opaque, stable identity of a resolved filename. It stays
	// valid until the cache is destroyed.
	File = cache.FileHandle
	// Tile is a borrowed reference to a cached tile, valid from acquire
	// until the matching release.
	Tile = cache.TileHandle
	// Perthread is an optional per-goroutine fast-path context.
	Perthread = cache.Perthread
	// FileStats is a per-file statistics snapshot.
	FileStats = cache.FileStats

	// ImageSpec describes the geometry and pixel layout of one
	// subimage/miplevel.
	ImageSpec = types.ImageSpec
	// Region is a half-open 3D pixel rectangle.
	Region = types.Region
	// PixelFormat identifies a channel data type.
	PixelFormat = types.PixelFormat

	// Input is the decoder interface a file format plugin implements.
	Input = format.Input
	// Opener constructs an Input for a path.
	Opener = format.Opener
)

const (
	FormatUnknown = types.FormatUnknown
	FormatUInt8   = types.FormatUInt8
	FormatUInt16  = types.FormatUInt16
	FormatHalf    = types.FormatHalf
	FormatFloat32 = types.FormatFloat32
)

// NewRegion2D builds a single-slice region from half-open x and y ranges.
func NewRegion2D(xbegin, xend, ybegin, yend int) Region {
	return types.NewRegion2D(xbegin, xend, ybegin, yend)
}

// RegisterFormat registers a decoder for a filename extension (without the
// dot). Later registrations for the same extension win.
func RegisterFormat(ext string, opener Opener) {
	format.Register(ext, opener)
}

// UnregisterFormat removes the decoder for an extension.
func UnregisterFormat(ext string) {
	format.Unregister(ext)
}

// FormatExtensions returns the registered extensions, sorted.
func FormatExtensions() []string {
	return format.Extensions()
}
