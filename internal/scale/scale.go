// Package scale normalizes the dequantization scales accepted by the quantized
// matmul kernels into one canonical form.
//
// A scale is a tagged descriptor: a uniform scalar, a per-token (row) vector
// of length M, a per-channel (column) vector of length N, or both vectors.
// Resolution checks vector lengths against the output shape and decodes the
// vectors to float32 so the kernel epilogues work on a single representation.
package scale

import (
	"fmt"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// Kind tags a Descriptor.
type Kind uint8

const (
	KindScalar Kind = iota
	KindPerToken
	KindPerChannel
	KindPerTokenChannel
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindPerToken:
		return "per_token"
	case KindPerChannel:
		return "per_channel"
	case KindPerTokenChannel:
		return "per_token_channel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Descriptor is an unresolved scale argument. The zero value is Scalar(0);
// use the constructors.
type Descriptor struct {
	kind    Kind
	uniform float32
	row     *tensor.Tensor
	col     *tensor.Tensor
}

// Scalar is a uniform dequantization factor.
func Scalar(v float32) Descriptor {
	return Descriptor{kind: KindScalar, uniform: v}
}

// PerToken scales output row i by row[i].
func PerToken(row *tensor.Tensor) Descriptor {
	return Descriptor{kind: KindPerToken, uniform: 1, row: row}
}

// PerChannel scales output column j by col[j].
func PerChannel(col *tensor.Tensor) Descriptor {
	return Descriptor{kind: KindPerChannel, uniform: 1, col: col}
}

// PerTokenChannel scales out[i,j] by row[i]*col[j].
func PerTokenChannel(row, col *tensor.Tensor) Descriptor {
	return Descriptor{kind: KindPerTokenChannel, uniform: 1, row: row, col: col}
}

// FromVectors builds the descriptor matching whichever vectors are present.
// Both nil yields Scalar(1).
func FromVectors(row, col *tensor.Tensor) Descriptor {
	switch {
	case row != nil && col != nil:
		return PerTokenChannel(row, col)
	case row != nil:
		return PerToken(row)
	case col != nil:
		return PerChannel(col)
	default:
		return Scalar(1)
	}
}

func (d Descriptor) Kind() Kind { return d.kind }

// IsUniform reports whether no vector is attached.
func (d Descriptor) IsUniform() bool { return d.kind == KindScalar }

// Uniform returns the scalar factor. For vector kinds it is 1.
func (d Descriptor) Uniform() float32 { return d.uniform }

func (d Descriptor) String() string {
	switch d.kind {
	case KindScalar:
		return fmt.Sprintf("scalar(%g)", d.uniform)
	default:
		return d.kind.String()
	}
}

// Resolved is the canonical form consumed by kernel epilogues.
// A nil Row or Col means an implicit vector of ones.
type Resolved struct {
	Uniform float32
	Row     []float32
	Col     []float32
}

// At returns the combined factor for output element (i, j).
func (r Resolved) At(i, j int) float32 {
	s := r.Uniform
	if r.Row != nil {
		s *= r.Row[i]
	}
	if r.Col != nil {
		s *= r.Col[j]
	}
	return s
}

// Resolve validates d against an [m, n] output and decodes its vectors.
func Resolve(d Descriptor, m, n int) (Resolved, error) {
	res := Resolved{Uniform: d.uniform}
	var err error
	switch d.kind {
	case KindScalar:
	case KindPerToken:
		res.Row, err = vector(d.row, "per-token scale", m)
	case KindPerChannel:
		res.Col, err = vector(d.col, "per-channel scale", n)
	case KindPerTokenChannel:
		if res.Row, err = vector(d.row, "per-token scale", m); err == nil {
			res.Col, err = vector(d.col, "per-channel scale", n)
		}
	default:
		err = fmt.Errorf("scale.Resolve: %s: %w", d.kind, tensor.ErrUnsupportedDType)
	}
	if err != nil {
		return Resolved{}, err
	}
	return res, nil
}

// Validate checks d against an [m, n] output without keeping the decoded
// vectors.
func Validate(d Descriptor, m, n int) error {
	_, err := Resolve(d, m, n)
	return err
}

func vector(t *tensor.Tensor, what string, want int) ([]float32, error) {
	const op = "scale.Resolve"
	if t == nil {
		return nil, tensor.ShapeErrorf(op, "%s missing", what)
	}
	switch t.DType {
	case dtype.BFloat16, dtype.Float16, dtype.Float32:
	default:
		return nil, &tensor.DTypeError{Op: op, What: what, Got: t.DType}
	}
	if t.Rank() != 1 {
		return nil, &tensor.ShapeError{Op: op, What: what + " rank", Got: t.Rank(), Want: 1}
	}
	if t.Dim(0) == 0 {
		return nil, tensor.ShapeErrorf(op, "%s is empty", what)
	}
	if err := tensor.CheckDim(op, what+" length", t.Dim(0), want); err != nil {
		return nil, err
	}
	if err := tensor.CheckStorage(op, what, t); err != nil {
		return nil, err
	}
	return t.ToFloat32(), nil
}
