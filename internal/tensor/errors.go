package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/actkernel/internal/dtype"
)

var (
	// ErrShapeMismatch marks any dimension or length disagreement between
	// operands, scales and outputs.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrUnsupportedDType marks an element type a caller may not use in the
	// given position.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

// ShapeError reports which dimension disagreed.
type ShapeError struct {
	Op   string
	What string
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: got %d, want %d", e.Op, e.What, e.Got, e.Want)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// DTypeError reports an operand whose element type is not accepted.
type DTypeError struct {
	Op   string
	What string
	Got  dtype.DType
}

func (e *DTypeError) Error() string {
	return fmt.Sprintf("%s: %s: %s not supported", e.Op, e.What, e.Got)
}

func (e *DTypeError) Unwrap() error {
	return ErrUnsupportedDType
}

// ShapeErrorf builds a ShapeMismatch without a single got/want pair.
func ShapeErrorf(op, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, args...), ErrShapeMismatch)
}

// CheckDim returns a ShapeError when got != want.
func CheckDim(op, what string, got, want int) error {
	if got != want {
		return &ShapeError{Op: op, What: what, Got: got, Want: want}
	}
	return nil
}

// CheckStorage returns a ShapeError when len(t.Raw) disagrees with the
// byte length Shape and DType imply.
func CheckStorage(op, what string, t *Tensor) error {
	n, err := NumElements(t.Shape)
	if err != nil {
		return ShapeErrorf(op, "%s: %v", what, err)
	}
	size := t.DType.Size()
	if size != 0 && n > math.MaxInt/size {
		return ShapeErrorf(op, "%s: %v", what, errTensorTooLarge)
	}
	return CheckDim(op, what+" storage bytes", len(t.Raw), n*size)
}
