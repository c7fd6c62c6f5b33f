// Package tensor holds the dense, row-major, byte-backed tensors that flow in
// and out of the quantized matmul kernels.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/samcharles93/actkernel/internal/dtype"
)

// Tensor is a dense row-major array.
//
// Raw holds the elements little-endian, len(Raw) == Len()*DType.Size().
// Views produced by Batch share Raw with their parent. A Tensor carries no
// device residency; whoever owns it owns the memory.
type Tensor struct {
	Shape []int
	DType dtype.DType
	Raw   []byte
}

var (
	errNegativeDim     = fmtError("negative dimension")
	errTensorTooLarge  = fmtError("tensor too large")
	errRawSizeMismatch = fmtError("raw data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }

// NumElements multiplies out shape, guarding against overflow.
func NumElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errNegativeDim
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errTensorTooLarge
		}
		n *= d
	}
	return n, nil
}

// New allocates a zero-filled tensor.
func New(dt dtype.DType, shape ...int) (*Tensor, error) {
	size := dt.Size()
	if size == 0 {
		return nil, &DTypeError{Op: "tensor.New", What: "element type", Got: dt}
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt/size {
		return nil, errTensorTooLarge
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: dt,
		Raw:   make([]byte, n*size),
	}, nil
}

// FromRaw wraps existing bytes. The slice is not copied.
func FromRaw(dt dtype.DType, shape []int, raw []byte) (*Tensor, error) {
	size := dt.Size()
	if size == 0 {
		return nil, &DTypeError{Op: "tensor.FromRaw", What: "element type", Got: dt}
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt/size || len(raw) != n*size {
		return nil, errRawSizeMismatch
	}
	return &Tensor{Shape: append([]int(nil), shape...), DType: dt, Raw: raw}, nil
}

// FromInt8 copies data into a new Int8 tensor.
func FromInt8(shape []int, data []int8) (*Tensor, error) {
	t, err := New(dtype.Int8, shape...)
	if err != nil {
		return nil, err
	}
	if len(data) != t.Len() {
		return nil, errRawSizeMismatch
	}
	copy(t.Int8(), data)
	return t, nil
}

// FromFloat32 encodes data into a new tensor of a float dtype.
func FromFloat32(dt dtype.DType, shape []int, data []float32) (*Tensor, error) {
	if !dt.IsFloat() {
		return nil, &DTypeError{Op: "tensor.FromFloat32", What: "element type", Got: dt}
	}
	t, err := New(dt, shape...)
	if err != nil {
		return nil, err
	}
	if len(data) != t.Len() {
		return nil, errRawSizeMismatch
	}
	for i, v := range data {
		t.SetFloat32(i, v)
	}
	return t, nil
}

// Full returns a float tensor with every element set to v.
func Full(dt dtype.DType, v float32, shape ...int) (*Tensor, error) {
	if !dt.IsFloat() {
		return nil, &DTypeError{Op: "tensor.Full", What: "element type", Got: dt}
	}
	t, err := New(dt, shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.Len() {
		t.SetFloat32(i, v)
	}
	return t, nil
}

// Rank is len(Shape).
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns Shape[i].
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Len returns the element count.
func (t *Tensor) Len() int {
	size := t.DType.Size()
	if size == 0 {
		return 0
	}
	return len(t.Raw) / size
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s%v)", t.DType, t.Shape)
}

// Int8 returns a view of the elements. It panics for other dtypes.
func (t *Tensor) Int8() []int8 {
	if t.DType != dtype.Int8 {
		panic("tensor: Int8 view of " + t.DType.String())
	}
	if len(t.Raw) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(unsafe.SliceData(t.Raw))), len(t.Raw))
}

// Float32At decodes element i as float32. Int dtypes are converted.
func (t *Tensor) Float32At(i int) float32 {
	switch t.DType {
	case dtype.Int8:
		return float32(int8(t.Raw[i]))
	case dtype.Int32:
		return float32(int32(binary.LittleEndian.Uint32(t.Raw[i*4:])))
	case dtype.Float16:
		return dtype.Float16ToFloat32(binary.LittleEndian.Uint16(t.Raw[i*2:]))
	case dtype.BFloat16:
		return dtype.BFloat16ToFloat32(binary.LittleEndian.Uint16(t.Raw[i*2:]))
	case dtype.Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(t.Raw[i*4:]))
	default:
		panic("tensor: decode of " + t.DType.String())
	}
}

// SetFloat32 stores v at element i, rounding to the tensor's float dtype.
func (t *Tensor) SetFloat32(i int, v float32) {
	switch t.DType {
	case dtype.Float16:
		binary.LittleEndian.PutUint16(t.Raw[i*2:], dtype.Float16Bits(v))
	case dtype.BFloat16:
		binary.LittleEndian.PutUint16(t.Raw[i*2:], dtype.BFloat16Bits(v))
	case dtype.Float32:
		binary.LittleEndian.PutUint32(t.Raw[i*4:], math.Float32bits(v))
	default:
		panic("tensor: float store into " + t.DType.String())
	}
}

// ToFloat32 decodes every element.
func (t *Tensor) ToFloat32() []float32 {
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = t.Float32At(i)
	}
	return out
}

// Batch returns the i-th slice along dimension 0 as a view.
func (t *Tensor) Batch(i int) *Tensor {
	if t.Rank() < 1 || i < 0 || i >= t.Shape[0] {
		panic("tensor: batch index out of range")
	}
	inner := t.Shape[1:]
	n, _ := NumElements(inner)
	stride := n * t.DType.Size()
	return &Tensor{
		Shape: append([]int(nil), inner...),
		DType: t.DType,
		Raw:   t.Raw[i*stride : (i+1)*stride : (i+1)*stride],
	}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		DType: t.DType,
		Raw:   append([]byte(nil), t.Raw...),
	}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}
