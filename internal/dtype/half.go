package dtype

import (
	"math"

	"github.com/x448/float16"
)

// Float16Bits rounds f to the nearest IEEE binary16 value (ties to even).
func Float16Bits(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// Float16ToFloat32 widens a binary16 bit pattern. Subnormals are preserved.
func Float16ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// BFloat16Bits rounds f to bfloat16 with round-to-nearest-even on the
// truncated low half. NaNs stay NaN.
func BFloat16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	if u&0x7FFFFFFF > 0x7F800000 {
		return uint16(u>>16) | 0x0040
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

func BFloat16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

// Encoder returns the float32 -> bits conversion for a half dtype.
// It panics for other dtypes; callers validate before reaching here.
func Encoder(d DType) func(float32) uint16 {
	switch d {
	case Float16:
		return Float16Bits
	case BFloat16:
		return BFloat16Bits
	default:
		panic("dtype: no half encoder for " + d.String())
	}
}

// Decoder is the inverse of Encoder.
func Decoder(d DType) func(uint16) float32 {
	switch d {
	case Float16:
		return Float16ToFloat32
	case BFloat16:
		return BFloat16ToFloat32
	default:
		panic("dtype: no half decoder for " + d.String())
	}
}

// Round returns f as it would read back after being stored as d.
// Float32 is the identity.
func Round(d DType, f float32) float32 {
	switch d {
	case Float16:
		return Float16ToFloat32(Float16Bits(f))
	case BFloat16:
		return BFloat16ToFloat32(BFloat16Bits(f))
	default:
		return f
	}
}
