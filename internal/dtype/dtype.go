// Package dtype describes the element encodings the quantized matmul family
// understands and converts between them and float32.
package dtype

import (
	"fmt"
	"strings"
)

// DType is a closed set of element encodings.
type DType uint8

const (
	Invalid DType = iota
	Int8
	Int32
	Float16
	BFloat16
	Float32
)

// Parse maps a user facing type name onto a DType. The accepted spellings
// follow the host framework wrapper ("float16", "bf16") plus the usual aliases.
func Parse(name string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "float16", "fp16", "f16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float32", "fp32", "f32", "float":
		return Float32, nil
	case "int8", "i8":
		return Int8, nil
	case "int32", "i32":
		return Int32, nil
	default:
		return Invalid, fmt.Errorf("unknown dtype %q", name)
	}
}

func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Size returns the element width in bytes, or 0 for Invalid.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	case Float16, BFloat16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

// IsHalf reports whether d is one of the 16-bit float encodings the kernels
// can produce.
func (d DType) IsHalf() bool {
	return d == Float16 || d == BFloat16
}

// IsFloat reports whether d holds floating point values.
func (d DType) IsFloat() bool {
	return d == Float16 || d == BFloat16 || d == Float32
}

// SafetensorsName returns the dtype tag used in safetensors headers.
func (d DType) SafetensorsName() string {
	switch d {
	case Int8:
		return "I8"
	case Int32:
		return "I32"
	case Float16:
		return "F16"
	case BFloat16:
		return "BF16"
	case Float32:
		return "F32"
	default:
		return ""
	}
}

// FromSafetensors is the inverse of SafetensorsName.
func FromSafetensors(tag string) (DType, bool) {
	switch tag {
	case "I8":
		return Int8, true
	case "I32":
		return Int32, true
	case "F16":
		return Float16, true
	case "BF16":
		return BFloat16, true
	case "F32":
		return Float32, true
	default:
		return Invalid, false
	}
}
