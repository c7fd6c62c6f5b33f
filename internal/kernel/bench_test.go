package kernel

import (
	"fmt"
	"testing"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

var benchShapes = [][3]int{
	{512, 256, 1024},
	{64, 8192, 512},
	{1024, 2048, 8192},
}

func BenchmarkQuantMatmul(b *testing.B) {
	for _, sh := range benchShapes {
		m, k, n := sh[0], sh[1], sh[2]
		b.Run(fmt.Sprintf("%dx%dx%d", m, k, n), func(b *testing.B) {
			e := NewEngine(Options{})
			defer e.Close()
			x := randInt8(b, 1, m, k)
			y := randInt8(b, 2, k, n)
			b.SetBytes(int64(2 * m * k * n))
			for b.Loop() {
				if _, err := e.QuantMatmulScaled(Inline{}, x, y, scale.Scalar(1), dtype.Float16); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkOptimizedQuantMatmul(b *testing.B) {
	for _, sh := range benchShapes {
		m, k, n := sh[0], sh[1], sh[2]
		b.Run(fmt.Sprintf("%dx%dx%d", m, k, n), func(b *testing.B) {
			e := NewEngine(Options{})
			defer e.Close()
			x := randInt8(b, 1, m, k)
			y := randInt8(b, 2, k, n)
			b.SetBytes(int64(2 * m * k * n))
			for b.Loop() {
				if _, err := e.OptimizedQuantMatmul(Inline{}, x, y, scale.Scalar(1), dtype.Float16); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBatchedQuantMatmul(b *testing.B) {
	e := NewEngine(Options{})
	defer e.Close()
	x := randInt8(b, 1, 12, 32, 32)
	y := randInt8(b, 2, 12, 32, 32)
	out, err := tensor.New(dtype.Float16, 12, 32, 32)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		if err := e.BatchedQuantMatmul(Inline{}, x, y, out, dtype.Float16, scale.Scalar(1)); err != nil {
			b.Fatal(err)
		}
	}
}
