package cache

import (
	"github.com/LavishGent/tilecache/internal/types"
)

// GetPixels composites the requested region into dst, row-major in dstFmt
// with channels [chBegin, chEnd) interleaved. The part of the region outside
// the image's data window is zero-filled; the rest is served from cached
// tiles, populated on demand.
func (c *Core) GetPixels(pt *Perthread, f FileHandle, subimage, miplevel int, region types.Region, chBegin, chEnd int, dstFmt types.PixelFormat, dst []byte) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if f == nil {
		return types.NewCacheError("get_pixels", "", types.ErrInvalidHandle)
	}
	pt, done := c.withPerthread(pt)
	defer done()

	rec := f.master()
	if err := c.files.ensureMeta(pt, rec); err != nil {
		return err
	}
	return c.readPixels(pt, rec, subimage, miplevel, region, chBegin, chEnd, dstFmt, dst)
}

// readPixels is the internal compositing loop shared by GetPixels and
// virtual mip synthesis.
func (c *Core) readPixels(pt *Perthread, rec *fileRecord, subimage, miplevel int, region types.Region, chBegin, chEnd int, dstFmt types.PixelFormat, dst []byte) error {
	rec.mu.Lock()
	spec, err := rec.specLocked(subimage, miplevel)
	rec.mu.Unlock()
	if err != nil {
		c.fileError(pt, rec, err)
		return err
	}

	if chBegin < 0 || chEnd > spec.Channels || chBegin >= chEnd {
		err := types.NewCacheError("get_pixels", rec.name, types.ErrChannelRange)
		c.fileError(pt, rec, err)
		return err
	}
	if region.Empty() {
		return nil
	}
	if dstFmt.Size() == 0 {
		err := types.NewCacheError("get_pixels", rec.name, types.ErrUsage)
		c.fileError(pt, rec, err)
		return err
	}

	channels := chEnd - chBegin
	need := region.NumPixels() * channels * dstFmt.Size()
	if len(dst) < need {
		err := types.NewCacheError("get_pixels", rec.name, types.ErrUsage)
		c.fileError(pt, rec, err)
		return err
	}
	clear(dst[:need])

	visible := region.Intersect(spec.Region())
	if visible.Empty() {
		return nil
	}

	td := spec.TileDepth
	if td <= 0 {
		td = 1
	}

	z0 := alignDown(visible.ZBegin, spec.Z, td)
	y0 := alignDown(visible.YBegin, spec.Y, spec.TileHeight)
	x0 := alignDown(visible.XBegin, spec.X, spec.TileWidth)

	for tz := z0; tz < visible.ZEnd; tz += td {
		for ty := y0; ty < visible.YEnd; ty += spec.TileHeight {
			for tx := x0; tx < visible.XEnd; tx += spec.TileWidth {
				key := tileKey{
					fileID:   rec.id,
					subimage: subimage,
					miplevel: miplevel,
					x:        tx, y: ty, z: tz,
					chBegin: chBegin,
					chEnd:   chEnd,
				}
				t, err := c.acquireKey(pt, rec, key)
				if err != nil {
					return err
				}
				sub := t.region.Intersect(visible)
				blitRegion(t.pixels, t.format, t.region, dst, dstFmt, region, sub, channels)
				if err := c.tiles.release(pt, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// downsampleTile populates a synthesized mip level tile by box-filtering the
// level above. The source pixels flow through the normal acquire path, so
// overlapping virtual tiles share cached source reads.
func (c *Core) downsampleTile(pt *Perthread, rec *fileRecord, key tileKey, spec *types.ImageSpec, full, clamped types.Region, stored types.PixelFormat, buf []byte) error {
	if clamped.Empty() {
		return nil
	}
	channels := key.chEnd - key.chBegin

	rec.mu.Lock()
	upSpec, err := rec.specLocked(key.subimage, key.miplevel-1)
	rec.mu.Unlock()
	if err != nil {
		return err
	}
	upWin := upSpec.Region()

	src := types.Region{
		XBegin: upSpec.X + 2*(clamped.XBegin-spec.X),
		XEnd:   upSpec.X + 2*(clamped.XEnd-spec.X),
		YBegin: upSpec.Y + 2*(clamped.YBegin-spec.Y),
		YEnd:   upSpec.Y + 2*(clamped.YEnd-spec.Y),
		ZBegin: upSpec.Z + (clamped.ZBegin - spec.Z),
		ZEnd:   upSpec.Z + (clamped.ZEnd - spec.Z),
	}
	src = src.Intersect(upWin)
	if src.Empty() {
		return nil
	}

	tmp := make([]byte, src.NumPixels()*channels*types.FormatFloat32.Size())
	if err := c.readPixels(pt, rec, key.subimage, key.miplevel-1, src, key.chBegin, key.chEnd, types.FormatFloat32, tmp); err != nil {
		return err
	}

	srcW := src.Width()
	srcH := src.Height()
	fullW := full.Width()
	fullH := full.Height()

	for z := clamped.ZBegin; z < clamped.ZEnd; z++ {
		sz := upSpec.Z + (z - spec.Z)
		for y := clamped.YBegin; y < clamped.YEnd; y++ {
			sy0 := upSpec.Y + 2*(y-spec.Y)
			for x := clamped.XBegin; x < clamped.XEnd; x++ {
				sx0 := upSpec.X + 2*(x-spec.X)
				for ch := 0; ch < channels; ch++ {
					var sum float32
					var count int
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							sx, sy := sx0+dx, sy0+dy
							if !src.Contains(sx, sy, sz) {
								continue
							}
							idx := (((sz-src.ZBegin)*srcH+(sy-src.YBegin))*srcW+(sx-src.XBegin))*channels + ch
							sum += sampleAt(tmp, types.FormatFloat32, idx)
							count++
						}
					}
					if count == 0 {
						continue
					}
					di := (((z-full.ZBegin)*fullH+(y-full.YBegin))*fullW+(x-full.XBegin))*channels + ch
					putSampleAt(buf, stored, di, sum/float32(count))
				}
			}
		}
	}
	return nil
}
