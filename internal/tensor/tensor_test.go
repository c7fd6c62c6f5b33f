package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/actkernel/internal/dtype"
)

func TestRandInt8IsDeterministicAndInRange(t *testing.T) {
	t.Parallel()

	a, err := RandInt8(0, -16, 16, 12, 32, 32)
	require.NoError(t, err)
	b, err := RandInt8(0, -16, 16, 12, 32, 32)
	require.NoError(t, err)
	c, err := RandInt8(1, -16, 16, 12, 32, 32)
	require.NoError(t, err)

	assert.Equal(t, a.Raw, b.Raw)
	assert.NotEqual(t, a.Raw, c.Raw)

	var sawLow, sawHigh bool
	for _, v := range a.Int8() {
		require.GreaterOrEqual(t, v, int8(-16))
		require.Less(t, v, int8(16))
		sawLow = sawLow || v == -16
		sawHigh = sawHigh || v == 15
	}
	assert.True(t, sawLow && sawHigh, "both ends of the range should appear in 12k draws")
}

func TestRandInt8RejectsBadRange(t *testing.T) {
	t.Parallel()

	_, err := RandInt8(0, 4, 4, 2)
	require.Error(t, err)
	_, err = RandInt8(0, -200, 0, 2)
	require.Error(t, err)
}

func TestBatchIsAView(t *testing.T) {
	t.Parallel()

	x, err := New(dtype.Float16, 3, 2, 2)
	require.NoError(t, err)

	b1 := x.Batch(1)
	assert.Equal(t, []int{2, 2}, b1.Shape)
	b1.SetFloat32(3, 7)

	assert.Equal(t, float32(7), x.Float32At(1*4+3))
	assert.Equal(t, float32(0), x.Float32At(2*4+3))
	assert.Panics(t, func() { x.Batch(3) })
}

func TestFloatStorageRoundsToDType(t *testing.T) {
	t.Parallel()

	x, err := FromFloat32(dtype.BFloat16, []int{2}, []float32{1 + 1.0/256, -3})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -3}, x.ToFloat32())

	ones, err := Full(dtype.BFloat16, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, ones.ToFloat32())
}

func TestConstructorsValidate(t *testing.T) {
	t.Parallel()

	_, err := New(dtype.Invalid, 2)
	require.ErrorIs(t, err, ErrUnsupportedDType)

	_, err = New(dtype.Int8, 2, -1)
	require.Error(t, err)

	_, err = FromRaw(dtype.Float16, []int{3}, make([]byte, 4))
	require.Error(t, err)

	_, err = FromInt8([]int{2, 2}, []int8{1, 2, 3})
	require.Error(t, err)

	_, err = FromFloat32(dtype.Int8, []int{1}, []float32{1})
	require.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestShapeErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := CheckDim("quant_matmul", "b rows (K)", 16, 32)
	require.ErrorIs(t, err, ErrShapeMismatch)

	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 16, se.Got)
	assert.Contains(t, err.Error(), "b rows (K)")

	assert.NoError(t, CheckDim("op", "k", 3, 3))
	assert.ErrorIs(t, ShapeErrorf("op", "rank %d", 4), ErrShapeMismatch)
}
