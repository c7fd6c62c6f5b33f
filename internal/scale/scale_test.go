package scale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/tensor"
)

func vec(t *testing.T, dt dtype.DType, vals ...float32) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromFloat32(dt, []int{len(vals)}, vals)
	require.NoError(t, err)
	return v
}

func TestResolveScalar(t *testing.T) {
	t.Parallel()

	r, err := Resolve(Scalar(0.5), 4, 8)
	require.NoError(t, err)
	assert.Nil(t, r.Row)
	assert.Nil(t, r.Col)
	assert.Equal(t, float32(0.5), r.At(3, 7))
	assert.True(t, Scalar(2).IsUniform())
}

func TestResolvePerTokenChannel(t *testing.T) {
	t.Parallel()

	row := vec(t, dtype.BFloat16, 1, 2)
	col := vec(t, dtype.Float16, 0.5, 4, 8)

	r, err := Resolve(PerTokenChannel(row, col), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, KindPerTokenChannel, PerTokenChannel(row, col).Kind())
	assert.Equal(t, float32(0.5), r.At(0, 0))
	assert.Equal(t, float32(16), r.At(1, 2))
}

func TestFromVectorsPicksKind(t *testing.T) {
	t.Parallel()

	row := vec(t, dtype.Float32, 1)
	assert.Equal(t, KindScalar, FromVectors(nil, nil).Kind())
	assert.Equal(t, float32(1), FromVectors(nil, nil).Uniform())
	assert.Equal(t, KindPerToken, FromVectors(row, nil).Kind())
	assert.Equal(t, KindPerChannel, FromVectors(nil, row).Kind())
	assert.Equal(t, KindPerTokenChannel, FromVectors(row, row).Kind())
}

func TestResolveRejectsBadVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc Descriptor
		want error
	}{
		{"row too short", PerToken(vec(t, dtype.BFloat16, 1, 1)), tensor.ErrShapeMismatch},
		{"col too long", PerChannel(vec(t, dtype.BFloat16, 1, 1, 1, 1, 1)), tensor.ErrShapeMismatch},
		{"int8 vector", PerToken(func() *tensor.Tensor {
			x, _ := tensor.New(dtype.Int8, 3)
			return x
		}()), tensor.ErrUnsupportedDType},
		{"rank 2", PerChannel(func() *tensor.Tensor {
			x, _ := tensor.New(dtype.Float32, 1, 4)
			return x
		}()), tensor.ErrShapeMismatch},
		{"missing col", PerTokenChannel(vec(t, dtype.Float32, 1, 1, 1), nil), tensor.ErrShapeMismatch},
		{"truncated storage", PerChannel(func() *tensor.Tensor {
			v := vec(t, dtype.Float32, 1, 1, 1, 1)
			v.Raw = v.Raw[:12]
			return v
		}()), tensor.ErrShapeMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.desc, 3, 4)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestResolveRejectsEmptyVector(t *testing.T) {
	t.Parallel()

	empty, err := tensor.New(dtype.BFloat16, 0)
	require.NoError(t, err)
	err = Validate(PerToken(empty), 0, 4)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "empty")
}
