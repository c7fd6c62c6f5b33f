package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

func TestGemmSmall(t *testing.T) {
	t.Parallel()

	// [1 2; 3 4] x [5 6; 7 8]
	got := Gemm([]float32{1, 2, 3, 4}, 2, 2, []float32{5, 6, 7, 8}, 2)
	assert.Equal(t, []float32{19, 22, 43, 50}, got)
	assert.Equal(t, []float32{0, 0}, Gemm(nil, 1, 0, nil, 2))
}

func TestQuantMatmulAppliesScales(t *testing.T) {
	t.Parallel()

	a, err := tensor.FromInt8([]int{2, 2}, []int8{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := tensor.FromInt8([]int{2, 2}, []int8{5, 6, 7, 8})
	require.NoError(t, err)
	row, err := tensor.FromFloat32(dtype.BFloat16, []int{2}, []float32{1, 0.5})
	require.NoError(t, err)
	col, err := tensor.FromFloat32(dtype.BFloat16, []int{2}, []float32{2, 1})
	require.NoError(t, err)

	out, err := QuantMatmul(a, b, scale.PerTokenChannel(row, col), dtype.Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{38, 22, 43, 25}, out.ToFloat32())

	_, err = QuantMatmul(a, b, scale.PerToken(col), dtype.Float32)
	require.NoError(t, err)

	short, err := tensor.FromFloat32(dtype.BFloat16, []int{1}, []float32{1})
	require.NoError(t, err)
	_, err = QuantMatmul(a, b, scale.PerChannel(short), dtype.Float16)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBatchedMatchesPerBatch(t *testing.T) {
	t.Parallel()

	a, err := tensor.RandInt8(3, -16, 16, 3, 4, 5)
	require.NoError(t, err)
	b, err := tensor.RandInt8(4, -16, 16, 3, 5, 6)
	require.NoError(t, err)

	all, err := BatchedQuantMatmul(a, b, 0.25, dtype.Float16)
	require.NoError(t, err)
	for i := range 3 {
		one, err := QuantMatmul(a.Batch(i), b.Batch(i), scale.Scalar(0.25), dtype.Float16)
		require.NoError(t, err)
		assert.Equal(t, one.Raw, all.Batch(i).Raw)
	}
}

func TestGroupedSliceKSplitsReduction(t *testing.T) {
	t.Parallel()

	a, err := tensor.FromInt8([]int{1, 4}, []int8{1, 1, 1, 1})
	require.NoError(t, err)
	b, err := tensor.FromInt8([]int{4, 1}, []int8{1, 2, 3, 4})
	require.NoError(t, err)
	scl, err := tensor.Full(dtype.Float32, 1, 3, 1)
	require.NoError(t, err)
	pts, err := tensor.FromFloat32(dtype.Float32, []int{3, 1}, []float32{1, 2, 10})
	require.NoError(t, err)

	out, err := GroupedSliceK(a, b, []int64{1, 1, 4}, scl, pts, dtype.Float32)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1}, out.Shape)
	assert.Equal(t, []float32{1, 0, 90}, out.ToFloat32())
}

func TestAllClose(t *testing.T) {
	t.Parallel()

	tol := Tolerance{Abs: 1, Rel: 1e-5}
	require.NoError(t, AllCloseSlices([]float32{1, 100}, []float32{1.9, 99.1}, tol))

	err := AllCloseSlices([]float32{1, 5, 100}, []float32{1, 3, 103}, tol)
	require.ErrorIs(t, err, ErrNotClose)
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, 2, mm.Failures)
	assert.Equal(t, 2, mm.Index)
	assert.InDelta(t, 3, mm.MaxDiff, 1e-9)

	x, err := tensor.New(dtype.Float16, 2, 2)
	require.NoError(t, err)
	y, err := tensor.New(dtype.Float16, 4)
	require.NoError(t, err)
	require.ErrorIs(t, AllClose(x, y, tol), tensor.ErrShapeMismatch)
}

func TestKernelTolerance(t *testing.T) {
	t.Parallel()

	tol, err := KernelTolerance("quant_matmul")
	require.NoError(t, err)
	assert.Equal(t, 1.0, tol.Abs)

	_, err = KernelTolerance("conv2d")
	require.Error(t, err)
}
