package kernel

import (
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// packedJob runs the register-blocked micro-kernel over K-contiguous
// operands. ap holds A rows and bt holds B columns, both with stride kp.
type packedJob struct {
	ap, bt  []int8
	kp      int
	m, n    int
	cfg     TileConfig
	sw      swizzle
	uniform float32
	out     []byte
	enc     func(float32) uint16
}

func (j *packedJob) run(part, parts int, sc *scratch) {
	res := scale.Resolved{Uniform: j.uniform}
	for t := part; t < j.sw.count(); t += parts {
		mi, ni := j.sw.tile(t)
		m0 := mi * j.cfg.TileM
		n0 := ni * j.cfg.TileN
		mLen := min(j.cfg.TileM, j.m-m0)
		nLen := min(j.cfg.TileN, j.n-n0)
		accumulatePacked(sc.acc, j.ap, j.bt, j.kp, m0, mLen, n0, nLen, 0, j.kp, j.cfg.TileK)
		storeTile(j.out, j.n, sc.acc, m0, mLen, n0, nLen, res, j.enc)
	}
}

// packColumns transposes row-major b[k, n] into bt[n, kp], zero filling
// the K padding. Columns are striped across parts.
func packColumns(bt, b []int8, k, n, kp int) funcJob {
	return func(part, parts int, _ *scratch) {
		for j := part; j < n; j += parts {
			col := bt[j*kp : (j+1)*kp]
			for kk := range k {
				col[kk] = b[kk*n+j]
			}
			clear(col[k:])
		}
	}
}

// padRows copies row-major a[m, k] into ap[m, kp] with zeroed padding.
func padRows(ap, a []int8, m, k, kp int) funcJob {
	return func(part, parts int, _ *scratch) {
		for i := part; i < m; i += parts {
			row := ap[i*kp : (i+1)*kp]
			copy(row, a[i*k:(i+1)*k])
			clear(row[k:])
		}
	}
}

// OptimizedQuantMatmul computes a[M,K] x b[K,N] * s for a uniform scalar s.
//
// B is first packed into a K-contiguous workspace padded to a 16-element K
// boundary (A is padded too when K is not already aligned), then every
// output pair is produced by a 2x2 register-blocked dot product. Vector
// scales are rejected with ErrUnsupportedScaleShape.
func (e *Engine) OptimizedQuantMatmul(ex Executor, a, b *tensor.Tensor, s scale.Descriptor, outDType dtype.DType) (*tensor.Tensor, error) {
	const op = "optimized_quant_matmul"

	d, err := checkOperands(op, a, b, 2)
	if err != nil {
		return nil, err
	}
	if !s.IsUniform() {
		return nil, scaleShapeError(op, s)
	}
	if err := checkOutDType(op, outDType); err != nil {
		return nil, err
	}
	out, err := tensor.New(outDType, d.m, d.n)
	if err != nil {
		return nil, err
	}

	cfg, kp := e.packedTiles(d.m, d.k, d.n)
	j := &packedJob{
		kp:      kp,
		m:       d.m,
		n:       d.n,
		cfg:     cfg,
		sw:      newSwizzle(d.m, d.n, cfg.TileM, cfg.TileN),
		uniform: s.Uniform(),
		out:     out.Raw,
		enc:     dtype.Encoder(outDType),
	}
	aData, bData := a.Int8(), b.Int8()
	e.debugDispatch(op, d, cfg, j.sw, "kp", kp, "pad_a", kp != d.k, "out", outDType.String())

	err = e.enqueue(ex, op, func() error {
		j.bt = make([]int8, d.n*kp)
		if err := e.launch(packColumns(j.bt, bData, d.k, d.n, kp), d.n); err != nil {
			return err
		}
		if kp == d.k {
			j.ap = aData
		} else {
			j.ap = make([]int8, d.m*kp)
			if err := e.launch(padRows(j.ap, aData, d.m, d.k, kp), d.m); err != nil {
				return err
			}
		}
		err := e.launch(j, j.sw.count())
		j.ap, j.bt = nil, nil
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// packedTiles resolves tiles for the unpadded shape, which is what the
// autotuner is keyed on, and aligns TileK to the padded reduction kp.
func (e *Engine) packedTiles(m, k, n int) (TileConfig, int) {
	kp := roundUp(k, packAlign)
	cfg := e.tilesFor(m, k, n)
	cfg.TileK = min(roundUp(cfg.TileK, packAlign), kp)
	return cfg, kp
}
