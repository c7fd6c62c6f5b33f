package reference

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/actkernel/internal/tensor"
)

// Tolerance is an allclose bound: |got - want| <= Abs + Rel*|want|.
type Tolerance struct {
	Abs float64
	Rel float64
}

// KernelTolerances are the parity targets each kernel is checked against.
// Half outputs of int8 products in [-16, 16) land within one unit.
var KernelTolerances = map[string]Tolerance{
	"quant_matmul":           {Abs: 1, Rel: 1e-5},
	"batched_quant_matmul":   {Abs: 1, Rel: 1e-5},
	"optimized_quant_matmul": {Abs: 1, Rel: 1e-5},
	"grouped_matmul_slice_k": {Abs: 1, Rel: 1e-2},
}

func KernelTolerance(name string) (Tolerance, error) {
	t, ok := KernelTolerances[name]
	if !ok {
		return Tolerance{}, fmt.Errorf("reference: no tolerance configured for kernel %q", name)
	}
	return t, nil
}

// ErrNotClose marks an AllClose failure.
var ErrNotClose = errors.New("values not close")

// MismatchError describes the worst element of a failed comparison.
type MismatchError struct {
	Index    int
	Got      float64
	Want     float64
	MaxDiff  float64
	Failures int
	Total    int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%d of %d elements differ, worst at %d: got %g want %g (|diff| %g)",
		e.Failures, e.Total, e.Index, e.Got, e.Want, e.MaxDiff)
}

func (e *MismatchError) Unwrap() error { return ErrNotClose }

// AllClose compares two tensors elementwise with torch.allclose semantics.
// NaNs never compare equal.
func AllClose(got, want *tensor.Tensor, tol Tolerance) error {
	if !got.SameShape(want) {
		return tensor.ShapeErrorf("allclose", "got %v, want %v", got.Shape, want.Shape)
	}
	return AllCloseSlices(got.ToFloat32(), want.ToFloat32(), tol)
}

// AllCloseSlices is AllClose over decoded values.
func AllCloseSlices(got, want []float32, tol Tolerance) error {
	if len(got) != len(want) {
		return &tensor.ShapeError{Op: "allclose", What: "length", Got: len(got), Want: len(want)}
	}
	var mm MismatchError
	mm.Total = len(got)
	for i := range got {
		g, w := float64(got[i]), float64(want[i])
		diff := math.Abs(g - w)
		if diff <= tol.Abs+tol.Rel*math.Abs(w) {
			continue
		}
		mm.Failures++
		if mm.Failures == 1 || diff > mm.MaxDiff || math.IsNaN(diff) {
			mm.Index, mm.Got, mm.Want, mm.MaxDiff = i, g, w, diff
		}
	}
	if mm.Failures > 0 {
		return &mm
	}
	return nil
}

// MaxAbsDiff returns the largest elementwise |got - want|.
func MaxAbsDiff(got, want []float32) float64 {
	var m float64
	for i := range min(len(got), len(want)) {
		m = max(m, math.Abs(float64(got[i])-float64(want[i])))
	}
	return m
}
