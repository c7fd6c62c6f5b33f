package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// MaxAccumK is the longest reduction accepted. With |a|,|b| <= 128 every
// partial sum then fits an int32 accumulator.
const MaxAccumK = math.MaxInt32 / (128 * 128)

var (
	// ErrUnsupportedScaleShape is returned when a variant is handed a scale
	// kind it does not implement.
	ErrUnsupportedScaleShape = errors.New("unsupported scale shape")
	// ErrEngineClosed is returned by entry points after Close.
	ErrEngineClosed = errors.New("kernel engine closed")
)

func scaleShapeError(op string, d scale.Descriptor) error {
	return fmt.Errorf("%s: %s scale: %w", op, d.Kind(), ErrUnsupportedScaleShape)
}

func checkOutDType(op string, dt dtype.DType) error {
	if !dt.IsHalf() {
		return &tensor.DTypeError{Op: op, What: "output", Got: dt}
	}
	return nil
}

// dims is the validated problem size. batch is 1 for rank-2 calls.
type dims struct {
	batch, m, k, n int
}

// checkOperands validates a and b as int8 operands of the given rank (2 or
// 3) and returns the problem size.
func checkOperands(op string, a, b *tensor.Tensor, rank int) (dims, error) {
	var d dims
	for _, x := range []struct {
		name string
		t    *tensor.Tensor
	}{{"a", a}, {"b", b}} {
		if x.t == nil {
			return d, tensor.ShapeErrorf(op, "%s is nil", x.name)
		}
		if x.t.DType != dtype.Int8 {
			return d, &tensor.DTypeError{Op: op, What: x.name, Got: x.t.DType}
		}
		if err := tensor.CheckDim(op, x.name+" rank", x.t.Rank(), rank); err != nil {
			return d, err
		}
		if err := tensor.CheckStorage(op, x.name, x.t); err != nil {
			return d, err
		}
	}

	off := 0
	d.batch = 1
	if rank == 3 {
		off = 1
		d.batch = a.Dim(0)
		if err := tensor.CheckDim(op, "b batch", b.Dim(0), d.batch); err != nil {
			return d, err
		}
	}
	d.m, d.k = a.Dim(off), a.Dim(off+1)
	d.n = b.Dim(off + 1)
	if err := tensor.CheckDim(op, "b rows (K)", b.Dim(off), d.k); err != nil {
		return d, err
	}
	if d.batch == 0 || d.m == 0 || d.k == 0 || d.n == 0 {
		return d, tensor.ShapeErrorf(op, "zero-sized dimension in b=%d m=%d k=%d n=%d", d.batch, d.m, d.k, d.n)
	}
	if d.k > MaxAccumK {
		return d, tensor.ShapeErrorf(op, "k=%d exceeds int32 accumulation limit %d", d.k, MaxAccumK)
	}
	return d, nil
}
