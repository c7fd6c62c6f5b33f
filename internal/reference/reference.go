// Package reference is the dense float oracle the quantized kernels are
// checked against. Operands are upcast to float32, multiplied with BLAS,
// scaled and cast to the output type.
package reference

import (
	"gonum.org/v1/gonum/blas"
	b32 "gonum.org/v1/gonum/blas/blas32"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// Gemm computes the row-major float32 product a[m,k] x b[k,n]. An empty
// reduction yields zeros.
func Gemm(a []float32, m, k int, b []float32, n int) []float32 {
	c := make([]float32, m*n)
	if m == 0 || k == 0 || n == 0 {
		return c
	}
	ga := b32.General{Rows: m, Cols: k, Data: a, Stride: k}
	gb := b32.General{Rows: k, Cols: n, Data: b, Stride: n}
	gc := b32.General{Rows: m, Cols: n, Data: c, Stride: n}
	b32.Gemm(blas.NoTrans, blas.NoTrans, 1, ga, gb, 0, gc)
	return c
}

func checkPair(op string, a, b *tensor.Tensor, rank int) (m, k, n int, err error) {
	for _, t := range []*tensor.Tensor{a, b} {
		if t.DType != dtype.Int8 {
			return 0, 0, 0, &tensor.DTypeError{Op: op, What: "operand", Got: t.DType}
		}
		if err := tensor.CheckDim(op, "rank", t.Rank(), rank); err != nil {
			return 0, 0, 0, err
		}
	}
	off := rank - 2
	m, k, n = a.Dim(off), a.Dim(off+1), b.Dim(off+1)
	if err := tensor.CheckDim(op, "b rows (K)", b.Dim(off), k); err != nil {
		return 0, 0, 0, err
	}
	return m, k, n, nil
}

// QuantMatmul is the reference for the general kernel. outDType may be any
// float type; Float32 skips the final rounding.
func QuantMatmul(a, b *tensor.Tensor, s scale.Descriptor, outDType dtype.DType) (*tensor.Tensor, error) {
	const op = "reference.quant_matmul"
	m, k, n, err := checkPair(op, a, b, 2)
	if err != nil {
		return nil, err
	}
	res, err := scale.Resolve(s, m, n)
	if err != nil {
		return nil, err
	}
	c := Gemm(a.ToFloat32(), m, k, b.ToFloat32(), n)
	return finish(c, []int{m, n}, n, res, outDType)
}

// BatchedQuantMatmul applies QuantMatmul with a uniform scale to each batch.
func BatchedQuantMatmul(a, b *tensor.Tensor, uniform float32, outDType dtype.DType) (*tensor.Tensor, error) {
	const op = "reference.batched_quant_matmul"
	m, k, n, err := checkPair(op, a, b, 3)
	if err != nil {
		return nil, err
	}
	batch := a.Dim(0)
	if err := tensor.CheckDim(op, "b batch", b.Dim(0), batch); err != nil {
		return nil, err
	}
	out, err := tensor.New(outDType, batch, m, n)
	if err != nil {
		return nil, err
	}
	for i := range batch {
		one, err := QuantMatmul(a.Batch(i), b.Batch(i), scale.Scalar(uniform), outDType)
		if err != nil {
			return nil, err
		}
		copy(out.Batch(i).Raw, one.Raw)
	}
	return out, nil
}

// GroupedSliceK is the reference for the grouped slice-K kernel.
func GroupedSliceK(a, b *tensor.Tensor, groupEnds []int64, scl, perTokenScale *tensor.Tensor, outDType dtype.DType) (*tensor.Tensor, error) {
	const op = "reference.grouped_matmul_slice_k"
	m, k, n, err := checkPair(op, a, b, 2)
	if err != nil {
		return nil, err
	}
	g := len(groupEnds)
	if err := tensor.CheckDim(op, "scale groups", scl.Dim(0), g); err != nil {
		return nil, err
	}
	if err := tensor.CheckDim(op, "per-token scale groups", perTokenScale.Dim(0), g); err != nil {
		return nil, err
	}
	out, err := tensor.New(outDType, g, m, n)
	if err != nil {
		return nil, err
	}
	af, bf := a.ToFloat32(), b.ToFloat32()
	cols, rows := scl.ToFloat32(), perTokenScale.ToFloat32()
	start := 0
	for gi, e := range groupEnds {
		end := int(e)
		if end < start || end > k {
			return nil, tensor.ShapeErrorf(op, "group %d ends at %d", gi, end)
		}
		w := end - start
		as := make([]float32, m*w)
		for i := range m {
			copy(as[i*w:(i+1)*w], af[i*k+start:i*k+end])
		}
		c := Gemm(as, m, w, bf[start*n:end*n], n)
		res := scale.Resolved{Uniform: 1, Row: rows[gi*m : (gi+1)*m], Col: cols[gi*n : (gi+1)*n]}
		one, err := finish(c, []int{m, n}, n, res, outDType)
		if err != nil {
			return nil, err
		}
		copy(out.Batch(gi).Raw, one.Raw)
		start = end
	}
	return out, nil
}

func finish(c []float32, shape []int, n int, res scale.Resolved, outDType dtype.DType) (*tensor.Tensor, error) {
	for idx := range c {
		c[idx] *= res.At(idx/n, idx%n)
	}
	return tensor.FromFloat32(outDType, shape, c)
}
