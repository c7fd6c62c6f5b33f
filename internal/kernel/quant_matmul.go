package kernel

import (
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// matmulJob is the tiled int8 product shared by the general, batched and
// grouped kernels. Batch bi reads A at bi*strideA, B at bi*strideB and writes
// out at bi*strideOut (elements). K runs over [kBegin, kEnd) with A and B
// row strides lda and ldb.
type matmulJob struct {
	a, b      []int8
	out       []byte
	lda, ldb  int
	m, n      int
	kBegin    int
	kEnd      int
	batch     int
	strideA   int
	strideB   int
	strideOut int
	cfg       TileConfig
	sw        swizzle
	scale     scale.Resolved
	enc       func(float32) uint16
}

func (j *matmulJob) run(part, parts int, sc *scratch) {
	perBatch := j.sw.count()
	total := perBatch * j.batch
	for t := part; t < total; t += parts {
		bi := t / perBatch
		mi, ni := j.sw.tile(t % perBatch)
		m0 := mi * j.cfg.TileM
		n0 := ni * j.cfg.TileN
		mLen := min(j.cfg.TileM, j.m-m0)
		nLen := min(j.cfg.TileN, j.n-n0)

		a := j.a[bi*j.strideA:]
		b := j.b[bi*j.strideB:]
		out := j.out[bi*j.strideOut*2:]
		accumulateTile(sc.acc, a, j.lda, b, j.ldb, m0, mLen, n0, nLen, j.kBegin, j.kEnd, j.cfg.TileK)
		storeTile(out, j.n, sc.acc, m0, mLen, n0, nLen, j.scale, j.enc)
	}
}

// QuantMatmul computes a[M,K] x b[K,N] scaled by the optional per-channel
// (length N) and per-token (length M) vectors and returns a new [M,N] tensor
// of outDType. The result is valid once ex has been synchronized.
func (e *Engine) QuantMatmul(ex Executor, a, b, colScale, rowScale *tensor.Tensor, outDType dtype.DType) (*tensor.Tensor, error) {
	return e.quantMatmul(ex, "quant_matmul", a, b, scale.FromVectors(rowScale, colScale), outDType)
}

// QuantMatmulScaled is QuantMatmul with an explicit scale descriptor, which
// also admits a uniform scalar.
func (e *Engine) QuantMatmulScaled(ex Executor, a, b *tensor.Tensor, s scale.Descriptor, outDType dtype.DType) (*tensor.Tensor, error) {
	return e.quantMatmul(ex, "quant_matmul", a, b, s, outDType)
}

func (e *Engine) quantMatmul(ex Executor, op string, a, b *tensor.Tensor, s scale.Descriptor, outDType dtype.DType) (*tensor.Tensor, error) {
	d, err := checkOperands(op, a, b, 2)
	if err != nil {
		return nil, err
	}
	if err := checkOutDType(op, outDType); err != nil {
		return nil, err
	}
	res, err := scale.Resolve(s, d.m, d.n)
	if err != nil {
		return nil, err
	}
	out, err := tensor.New(outDType, d.m, d.n)
	if err != nil {
		return nil, err
	}

	cfg := e.tilesFor(d.m, d.k, d.n)
	j := &matmulJob{
		a: a.Int8(), b: b.Int8(), out: out.Raw,
		lda: d.k, ldb: d.n,
		m: d.m, n: d.n,
		kBegin: 0, kEnd: d.k,
		batch: 1,
		cfg:   cfg,
		sw:    newSwizzle(d.m, d.n, cfg.TileM, cfg.TileN),
		scale: res,
		enc:   dtype.Encoder(outDType),
	}
	e.debugDispatch(op, d, cfg, j.sw, "scale", s.Kind().String(), "out", outDType.String())
	if err := e.enqueue(ex, op, func() error {
		return e.launch(j, j.sw.count())
	}); err != nil {
		return nil, err
	}
	return out, nil
}
