// Package types provides shared types for the tilecache library.
// This package breaks import cycles between pkg/tilecache and the
// internal cache, format, and metrics packages.
package types

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// PixelFormat identifies the in-memory storage type of one channel sample.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatUInt8
	FormatUInt16
	FormatHalf
	FormatFloat32
)

func (f PixelFormat) String() string {
	switch f {
	case FormatUInt8:
		return "uint8"
	case FormatUInt16:
		return "uint16"
	case FormatHalf:
		return "half"
	case FormatFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// Size returns the byte size of one channel sample, or 0 for FormatUnknown.
func (f PixelFormat) Size() int {
	switch f {
	case FormatUInt8:
		return 1
	case FormatUInt16, FormatHalf:
		return 2
	case FormatFloat32:
		return 4
	default:
		return 0
	}
}

// Region is a half-open pixel rectangle (volumetric when ZEnd > ZBegin+1).
// XBegin <= x < XEnd, and likewise for Y and Z.
type Region struct {
	XBegin, XEnd int
	YBegin, YEnd int
	ZBegin, ZEnd int
}

func NewRegion2D(xbegin, xend, ybegin, yend int) Region {
	return Region{XBegin: xbegin, XEnd: xend, YBegin: ybegin, YEnd: yend, ZBegin: 0, ZEnd: 1}
}

func (r Region) Width() int  { return r.XEnd - r.XBegin }
func (r Region) Height() int { return r.YEnd - r.YBegin }
func (r Region) Depth() int  { return r.ZEnd - r.ZBegin }

func (r Region) Empty() bool {
	return r.XEnd <= r.XBegin || r.YEnd <= r.YBegin || r.ZEnd <= r.ZBegin
}

func (r Region) NumPixels() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height() * r.Depth()
}

// Contains reports whether the pixel at (x, y, z) lies inside the region.
func (r Region) Contains(x, y, z int) bool {
	return x >= r.XBegin && x < r.XEnd &&
		y >= r.YBegin && y < r.YEnd &&
		z >= r.ZBegin && z < r.ZEnd
}

// Intersect returns the overlap of two regions; the result may be empty.
func (r Region) Intersect(o Region) Region {
	return Region{
		XBegin: max(r.XBegin, o.XBegin), XEnd: min(r.XEnd, o.XEnd),
		YBegin: max(r.YBegin, o.YBegin), YEnd: min(r.YEnd, o.YEnd),
		ZBegin: max(r.ZBegin, o.ZBegin), ZEnd: min(r.ZEnd, o.ZEnd),
	}
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d)x[%d,%d)x[%d,%d)", r.XBegin, r.XEnd, r.YBegin, r.YEnd, r.ZBegin, r.ZEnd)
}

// ImageSpec describes one subimage/miplevel of an image file.
type ImageSpec struct {
	// Data window. X, Y, Z are the origin of the pixel data.
	X, Y, Z              int
	Width, Height, Depth int

	// Native tile shape; 0 means the source is untiled (scanline-oriented).
	TileWidth, TileHeight, TileDepth int

	Channels     int
	ChannelNames []string
	Format       PixelFormat

	// Fingerprint is an optional content hash embedded in the file's
	// metadata, used for deduplication. Empty when the format carries none.
	Fingerprint digest.Digest
}

// Tiled reports whether the source provides native tiles.
func (s *ImageSpec) Tiled() bool {
	return s.TileWidth > 0 && s.TileHeight > 0
}

// Region returns the full data window as a Region.
func (s *ImageSpec) Region() Region {
	d := s.Depth
	if d <= 0 {
		d = 1
	}
	return Region{
		XBegin: s.X, XEnd: s.X + s.Width,
		YBegin: s.Y, YEnd: s.Y + s.Height,
		ZBegin: s.Z, ZEnd: s.Z + d,
	}
}

// PixelBytes returns the byte size of one full pixel (all channels).
func (s *ImageSpec) PixelBytes() int {
	return s.Channels * s.Format.Size()
}

// ImageBytes returns the byte size of the full uncompressed subimage level.
func (s *ImageSpec) ImageBytes() int64 {
	return int64(s.Region().NumPixels()) * int64(s.PixelBytes())
}

// TileRegion returns the region covered by the tile whose origin contains
// pixel (x, y, z), clamped to the data window. The tile shape must be set
// (native or synthesized).
func (s *ImageSpec) TileRegion(x, y, z int) Region {
	td := s.TileDepth
	if td <= 0 {
		td = 1
	}
	tx := s.X + ((x-s.X)/s.TileWidth)*s.TileWidth
	ty := s.Y + ((y-s.Y)/s.TileHeight)*s.TileHeight
	tz := s.Z + ((z-s.Z)/td)*td
	r := Region{
		XBegin: tx, XEnd: tx + s.TileWidth,
		YBegin: ty, YEnd: ty + s.TileHeight,
		ZBegin: tz, ZEnd: tz + td,
	}
	return r.Intersect(s.Region())
}
