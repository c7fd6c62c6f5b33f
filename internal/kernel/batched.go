package kernel

import (
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// BatchedQuantMatmul computes out[i] = a[i] x b[i] * s for every batch
// index, writing into the caller's out[B,M,N] in place. Only a uniform
// scalar scale is accepted. Every precondition is checked before anything
// is enqueued, so a rejected call leaves out untouched.
func (e *Engine) BatchedQuantMatmul(ex Executor, a, b, out *tensor.Tensor, outDType dtype.DType, s scale.Descriptor) error {
	const op = "batched_quant_matmul"

	d, err := checkOperands(op, a, b, 3)
	if err != nil {
		return err
	}
	if err := checkOutDType(op, outDType); err != nil {
		return err
	}
	if out == nil {
		return tensor.ShapeErrorf(op, "out is nil")
	}
	if !out.DType.IsHalf() {
		return &tensor.DTypeError{Op: op, What: "out", Got: out.DType}
	}
	if out.DType != outDType {
		return &tensor.DTypeError{Op: op, What: "out (declared " + outDType.String() + ")", Got: out.DType}
	}
	if err := tensor.CheckDim(op, "out rank", out.Rank(), 3); err != nil {
		return err
	}
	if err := tensor.CheckStorage(op, "out", out); err != nil {
		return err
	}
	for i, want := range []int{d.batch, d.m, d.n} {
		if err := tensor.CheckDim(op, outDimNames[i], out.Dim(i), want); err != nil {
			return err
		}
	}
	if !s.IsUniform() {
		return scaleShapeError(op, s)
	}

	cfg := e.tilesFor(d.m, d.k, d.n)
	j := &matmulJob{
		a: a.Int8(), b: b.Int8(), out: out.Raw,
		lda: d.k, ldb: d.n,
		m: d.m, n: d.n,
		kBegin: 0, kEnd: d.k,
		batch:     d.batch,
		strideA:   d.m * d.k,
		strideB:   d.k * d.n,
		strideOut: d.m * d.n,
		cfg:       cfg,
		sw:        newSwizzle(d.m, d.n, cfg.TileM, cfg.TileN),
		scale:     scale.Resolved{Uniform: s.Uniform()},
		enc:       dtype.Encoder(outDType),
	}
	e.debugDispatch(op, d, cfg, j.sw, "scale", s.Uniform(), "out", outDType.String())
	return e.enqueue(ex, op, func() error {
		return e.launch(j, j.sw.count()*d.batch)
	})
}

var outDimNames = [...]string{"out batch", "out rows (M)", "out cols (N)"}
