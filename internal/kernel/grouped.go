package kernel

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// GroupedQuantMatmulSliceK splits the reduction of a[M,K] x b[K,N] into G
// groups at the cumulative offsets groupEnds (the last one must equal K).
// Group g produces
//
//	out[g] = a[:, k(g-1):k(g)] x b[k(g-1):k(g), :] * perTokenScale[g][i] * scale[g][j]
//
// with scale shaped [G,N] and perTokenScale shaped [G,M]. The result is a
// new [G,M,N] tensor. An empty group yields zeros.
func (e *Engine) GroupedQuantMatmulSliceK(ex Executor, a, b *tensor.Tensor, groupEnds []int64, scl, perTokenScale *tensor.Tensor, outDType dtype.DType) (*tensor.Tensor, error) {
	const op = "grouped_matmul_slice_k"

	d, err := checkOperands(op, a, b, 2)
	if err != nil {
		return nil, err
	}
	if err := checkOutDType(op, outDType); err != nil {
		return nil, err
	}
	g := len(groupEnds)
	if g == 0 {
		return nil, tensor.ShapeErrorf(op, "no groups")
	}
	prev := int64(0)
	for i, end := range groupEnds {
		if end < prev || end > int64(d.k) {
			return nil, tensor.ShapeErrorf(op, "group %d ends at %d, previous end %d, k=%d", i, end, prev, d.k)
		}
		prev = end
	}
	if err := tensor.CheckDim(op, "last group end", int(prev), d.k); err != nil {
		return nil, err
	}
	cols, err := groupVectors(op, "scale", scl, g, d.n)
	if err != nil {
		return nil, err
	}
	rows, err := groupVectors(op, "per-token scale", perTokenScale, g, d.m)
	if err != nil {
		return nil, err
	}
	out, err := tensor.New(outDType, g, d.m, d.n)
	if err != nil {
		return nil, err
	}

	aData, bData := a.Int8(), b.Int8()
	enc := dtype.Encoder(outDType)
	jobs := make([]*matmulJob, g)
	start := 0
	for gi, end := range groupEnds {
		sliceK := int(end) - start
		cfg := e.tilesFor(d.m, max(sliceK, 1), d.n)
		jobs[gi] = &matmulJob{
			a: aData, b: bData,
			out: out.Raw[gi*d.m*d.n*2 : (gi+1)*d.m*d.n*2],
			lda: d.k, ldb: d.n,
			m: d.m, n: d.n,
			kBegin: start, kEnd: int(end),
			batch: 1,
			cfg:   cfg,
			sw:    newSwizzle(d.m, d.n, cfg.TileM, cfg.TileN),
			scale: scale.Resolved{Uniform: 1, Row: rows[gi], Col: cols[gi]},
			enc:   enc,
		}
		start = int(end)
	}
	e.debugDispatch(op, d, jobs[0].cfg, jobs[0].sw, "groups", g, "out", outDType.String())

	err = e.enqueue(ex, op, func() error {
		if e.closed.Load() {
			return ErrEngineClosed
		}
		parts := max(e.pool.size/g, 1)
		var eg errgroup.Group
		eg.SetLimit(e.pool.size)
		for gi, j := range jobs {
			eg.Go(func() error {
				if err := e.pool.run(j, min(parts, j.sw.count())); err != nil {
					return fmt.Errorf("group %d: %w", gi, err)
				}
				return nil
			})
		}
		return eg.Wait()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// groupVectors validates a [g, length] float scale and splits it per group.
func groupVectors(op, what string, t *tensor.Tensor, g, length int) ([][]float32, error) {
	if t == nil {
		return nil, tensor.ShapeErrorf(op, "%s missing", what)
	}
	if !t.DType.IsFloat() {
		return nil, &tensor.DTypeError{Op: op, What: what, Got: t.DType}
	}
	if err := tensor.CheckDim(op, what+" rank", t.Rank(), 2); err != nil {
		return nil, err
	}
	if err := tensor.CheckDim(op, what+" groups", t.Dim(0), g); err != nil {
		return nil, err
	}
	if err := tensor.CheckDim(op, what+" length", t.Dim(1), length); err != nil {
		return nil, err
	}
	if err := tensor.CheckStorage(op, what, t); err != nil {
		return nil, err
	}
	flat := t.ToFloat32()
	out := make([][]float32, g)
	for i := range out {
		out[i] = flat[i*length : (i+1)*length : (i+1)*length]
	}
	return out, nil
}
