package tensor

import (
	"fmt"
	"math/rand/v2"

	"github.com/samcharles93/actkernel/internal/dtype"
)

// RandInt8 fills a new Int8 tensor with integers drawn uniformly from
// [low, high). The same seed always yields the same tensor.
func RandInt8(seed uint64, low, high int, shape ...int) (*Tensor, error) {
	if low >= high || low < -128 || high > 128 {
		return nil, fmt.Errorf("tensor.RandInt8: invalid range [%d, %d)", low, high)
	}
	t, err := New(dtype.Int8, shape...)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	span := high - low
	data := t.Int8()
	for i := range data {
		data[i] = int8(low + rng.IntN(span))
	}
	return t, nil
}

// RandFloat fills a new float tensor with values uniform in [low, high),
// rounded to dt.
func RandFloat(seed uint64, dt dtype.DType, low, high float32, shape ...int) (*Tensor, error) {
	if !(low < high) {
		return nil, fmt.Errorf("tensor.RandFloat: invalid range [%g, %g)", low, high)
	}
	t, err := New(dt, shape...)
	if err != nil {
		return nil, err
	}
	if !dt.IsFloat() {
		return nil, &DTypeError{Op: "tensor.RandFloat", What: "element type", Got: dt}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	for i := range t.Len() {
		t.SetFloat32(i, low+rng.Float32()*(high-low))
	}
	return t, nil
}
