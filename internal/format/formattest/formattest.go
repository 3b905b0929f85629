// Package formattest provides a synthetic in-memory image format for tests.
//
// Images are registered under invented paths with the ".synth" extension and
// serve deterministic procedural pixels. Open and read calls are counted, and
// failures can be injected, so tests can assert exactly how often the cache
// went back to the decoder.
package formattest

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/LavishGent/tilecache/internal/format"
	"github.com/LavishGent/tilecache/internal/types"
)

// Ext is the extension the synthetic format registers under.
const Ext = "synth"

var (
	mu      sync.Mutex
	images  = make(map[string]*Image)
	install sync.Once
)

// Install registers the synthetic format. Safe to call repeatedly.
func Install() {
	install.Do(func() {
		format.Register(Ext, open)
	})
}

// Add makes an image available under the given path (which should end in
// ".synth"). Install is implied.
func Add(path string, img *Image) {
	Install()
	mu.Lock()
	images[path] = img
	mu.Unlock()
}

// Remove forgets a registered image.
func Remove(path string) {
	mu.Lock()
	delete(images, path)
	mu.Unlock()
}

// Image is a synthetic image: per-subimage, per-miplevel specs plus fault
// injection knobs and call counters.
type Image struct {
	// Specs[subimage][miplevel].
	Specs [][]types.ImageSpec

	// FailOpen, when set, makes every open fail with this error.
	FailOpen error
	// TransientOpens makes the next N opens fail with ErrTransientIO.
	TransientOpens atomic.Int32
	// FailRead, when set, makes every ReadRegion fail with this error.
	FailRead error

	Opens     atomic.Int64
	Reads     atomic.Int64
	BytesRead atomic.Int64
}

// NewImage builds a single-subimage, single-level, untiled image.
func NewImage(width, height, channels int, pf types.PixelFormat) *Image {
	spec := types.ImageSpec{
		Width:    width,
		Height:   height,
		Depth:    1,
		Channels: channels,
		Format:   pf,
	}
	return &Image{Specs: [][]types.ImageSpec{{spec}}}
}

// WithTiles sets a native tile shape on every level.
func (img *Image) WithTiles(tw, th int) *Image {
	for si := range img.Specs {
		for mi := range img.Specs[si] {
			img.Specs[si][mi].TileWidth = tw
			img.Specs[si][mi].TileHeight = th
			img.Specs[si][mi].TileDepth = 1
		}
	}
	return img
}

// WithMipChain extends subimage 0 with a full mip chain, halving dimensions
// down to 1x1, preserving the tile shape and format of the base level.
func (img *Image) WithMipChain() *Image {
	base := img.Specs[0][0]
	levels := []types.ImageSpec{base}
	w, h := base.Width, base.Height
	for w > 1 || h > 1 {
		w = max(1, w/2)
		h = max(1, h/2)
		s := base
		s.Width, s.Height = w, h
		levels = append(levels, s)
	}
	img.Specs[0] = levels
	return img
}

// WithFingerprint attaches a content fingerprint to every level.
func (img *Image) WithFingerprint(d digest.Digest) *Image {
	for si := range img.Specs {
		for mi := range img.Specs[si] {
			img.Specs[si][mi].Fingerprint = d
		}
	}
	return img
}

// Value is the canonical sample value at a coordinate. Encoded per the
// level's pixel format by ReadRegion; tests use it to compute expectations.
func Value(subimage, miplevel, x, y, z, c int) int {
	return subimage*29 + miplevel*23 + z*11 + y*7 + x*3 + c*17
}

// PutSample encodes v into dst (len >= pf.Size()) the way ReadRegion does.
func PutSample(pf types.PixelFormat, v int, dst []byte) {
	switch pf {
	case types.FormatUInt8:
		dst[0] = byte(v & 0xff)
	case types.FormatUInt16, types.FormatHalf:
		binary.LittleEndian.PutUint16(dst, uint16(v&0xffff))
	case types.FormatFloat32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	}
}

// ExpectedBytes returns the bytes ReadRegion would produce for the region.
func ExpectedBytes(spec types.ImageSpec, subimage, miplevel int, region types.Region, chBegin, chEnd int) []byte {
	ss := spec.Format.Size()
	out := make([]byte, region.NumPixels()*(chEnd-chBegin)*ss)
	i := 0
	for z := region.ZBegin; z < region.ZEnd; z++ {
		for y := region.YBegin; y < region.YEnd; y++ {
			for x := region.XBegin; x < region.XEnd; x++ {
				for c := chBegin; c < chEnd; c++ {
					PutSample(spec.Format, Value(subimage, miplevel, x, y, z, c), out[i:])
					i += ss
				}
			}
		}
	}
	return out
}

func open(path string) (format.Input, error) {
	mu.Lock()
	img := images[path]
	mu.Unlock()
	if img == nil {
		return nil, types.NewCacheError("open", path, types.ErrNotFound)
	}

	img.Opens.Add(1)
	if img.FailOpen != nil {
		return nil, types.NewCacheError("open", path, img.FailOpen)
	}
	if img.TransientOpens.Load() > 0 && img.TransientOpens.Add(-1) >= 0 {
		return nil, types.NewCacheError("open", path, types.ErrTransientIO)
	}
	return &input{img: img, path: path}, nil
}

type input struct {
	img  *Image
	path string
}

func (in *input) NumSubimages() int {
	return len(in.img.Specs)
}

func (in *input) NumMipLevels(subimage int) int {
	if subimage < 0 || subimage >= len(in.img.Specs) {
		return 0
	}
	return len(in.img.Specs[subimage])
}

func (in *input) Spec(subimage, miplevel int) (types.ImageSpec, error) {
	if subimage < 0 || subimage >= len(in.img.Specs) ||
		miplevel < 0 || miplevel >= len(in.img.Specs[subimage]) {
		return types.ImageSpec{}, types.NewCacheError("spec", in.path, types.ErrSubimageOutOfRange)
	}
	return in.img.Specs[subimage][miplevel], nil
}

func (in *input) ReadRegion(subimage, miplevel int, region types.Region, chBegin, chEnd int, dst []byte) error {
	spec, err := in.Spec(subimage, miplevel)
	if err != nil {
		return err
	}
	if in.img.FailRead != nil {
		return types.NewCacheError("read", in.path, in.img.FailRead)
	}
	window := spec.Region()
	if region.Intersect(window) != region {
		return types.NewCacheError("read", in.path,
			fmt.Errorf("%w: region %v outside window %v", types.ErrCorruptData, region, window))
	}
	if chBegin < 0 || chEnd > spec.Channels || chBegin >= chEnd {
		return types.NewCacheError("read", in.path, types.ErrChannelRange)
	}

	ss := spec.Format.Size()
	need := region.NumPixels() * (chEnd - chBegin) * ss
	if len(dst) < need {
		return types.NewCacheError("read", in.path,
			fmt.Errorf("%w: dst %d bytes, need %d", types.ErrUsage, len(dst), need))
	}

	i := 0
	for z := region.ZBegin; z < region.ZEnd; z++ {
		for y := region.YBegin; y < region.YEnd; y++ {
			for x := region.XBegin; x < region.XEnd; x++ {
				for c := chBegin; c < chEnd; c++ {
					PutSample(spec.Format, Value(subimage, miplevel, x, y, z, c), dst[i:])
					i += ss
				}
			}
		}
	}
	in.img.Reads.Add(1)
	in.img.BytesRead.Add(int64(need))
	return nil
}

func (in *input) Close() error {
	return nil
}

var _ format.Input = (*input)(nil)
