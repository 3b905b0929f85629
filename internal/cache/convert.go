package cache

import (
	"encoding/binary"
	"math"

	"github.com/LavishGent/tilecache/internal/types"
)

// sampleAt reads sample i of buf as a float. Integer formats are normalized
// to [0, 1], matching how the decode plugins scale quantized pixel data.
func sampleAt(buf []byte, pf types.PixelFormat, i int) float32 {
	switch pf {
	case types.FormatUInt8:
		return float32(buf[i]) / 255
	case types.FormatUInt16:
		return float32(binary.LittleEndian.Uint16(buf[i*2:])) / 65535
	case types.FormatHalf:
		return halfToFloat(binary.LittleEndian.Uint16(buf[i*2:]))
	case types.FormatFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	default:
		return 0
	}
}

// putSampleAt writes a float into sample i of buf, quantizing with clamping
// for the integer formats.
func putSampleAt(buf []byte, pf types.PixelFormat, i int, v float32) {
	switch pf {
	case types.FormatUInt8:
		buf[i] = byte(clamp01(v)*255 + 0.5)
	case types.FormatUInt16:
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clamp01(v)*65535+0.5))
	case types.FormatHalf:
		binary.LittleEndian.PutUint16(buf[i*2:], floatToHalf(v))
	case types.FormatFloat32:
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// blitRegion copies the sub region of pixels from src (laid out row-major
// over srcLayout) into dst (laid out row-major over dstLayout), converting
// the sample format when the two differ. sub must lie inside both layouts.
func blitRegion(src []byte, srcFmt types.PixelFormat, srcLayout types.Region,
	dst []byte, dstFmt types.PixelFormat, dstLayout types.Region,
	sub types.Region, channels int) {

	if sub.Empty() {
		return
	}

	srcRow := srcLayout.Width() * channels
	dstRow := dstLayout.Width() * channels
	rowSamples := sub.Width() * channels

	for z := sub.ZBegin; z < sub.ZEnd; z++ {
		for y := sub.YBegin; y < sub.YEnd; y++ {
			si := ((z-srcLayout.ZBegin)*srcLayout.Height()+(y-srcLayout.YBegin))*srcRow +
				(sub.XBegin-srcLayout.XBegin)*channels
			di := ((z-dstLayout.ZBegin)*dstLayout.Height()+(y-dstLayout.YBegin))*dstRow +
				(sub.XBegin-dstLayout.XBegin)*channels

			if srcFmt == dstFmt {
				ss := srcFmt.Size()
				copy(dst[di*ss:(di+rowSamples)*ss], src[si*ss:(si+rowSamples)*ss])
				continue
			}
			for k := 0; k < rowSamples; k++ {
				putSampleAt(dst, dstFmt, di+k, sampleAt(src, srcFmt, si+k))
			}
		}
	}
}

// halfToFloat converts an IEEE 754 binary16 value to float32.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign << 31
	case exp == 0:
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		bits = sign<<31 | e<<23 | mant<<13
	case exp == 0x1f:
		bits = sign<<31 | 0xff<<23 | mant<<13 // inf / nan
	default:
		bits = sign<<31 | (exp-15+127)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// floatToHalf converts a float32 to IEEE 754 binary16, rounding to nearest.
func floatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00 // nan
		}
		return sign | 0x7c00 // overflow to inf
	case exp <= 0:
		if exp < -10 {
			return sign // underflow to zero
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(mant>>13)
		if mant&0x1000 != 0 {
			half++
		}
		return half
	}
}
