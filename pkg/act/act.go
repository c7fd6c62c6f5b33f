// Package act is the public operator namespace of the quantized matmul
// kernels. It exposes exactly three entry points, the way a host tensor
// framework would register them:
//
//	act::quant_matmul(a, b, scale_col, scale_row, out_dtype) -> Tensor
//	act::batched_quant_matmul(a, b, out, out_dtype, scale)
//	act::optimized_quant_matmul(a, b, scale, out_dtype) -> Tensor
//
// Calls are enqueued on the bound stream. Results are valid after
// Synchronize returns nil.
package act

import (
	"context"
	"fmt"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// Namespace is the operator library name.
const Namespace = "act"

const (
	OpQuantMatmul          = "quant_matmul"
	OpBatchedQuantMatmul   = "batched_quant_matmul"
	OpOptimizedQuantMatmul = "optimized_quant_matmul"
)

// Schemas documents the registered signatures, keyed by op name.
var Schemas = map[string]string{
	OpQuantMatmul:          "quant_matmul(Tensor a, Tensor b, Tensor? scale_col, Tensor? scale_row, str out_dtype) -> Tensor",
	OpBatchedQuantMatmul:   "batched_quant_matmul(Tensor a, Tensor b, Tensor(a!) out, str out_dtype, float scale) -> ()",
	OpOptimizedQuantMatmul: "optimized_quant_matmul(Tensor a, Tensor b, float scale, str out_dtype) -> Tensor",
}

// Names lists the qualified op names in registration order.
func Names() []string {
	return []string{
		Namespace + "::" + OpQuantMatmul,
		Namespace + "::" + OpBatchedQuantMatmul,
		Namespace + "::" + OpOptimizedQuantMatmul,
	}
}

// Ops binds the namespace to an engine and a stream.
type Ops struct {
	engine *kernel.Engine
	stream *device.Stream
}

func New(engine *kernel.Engine, stream *device.Stream) *Ops {
	return &Ops{engine: engine, stream: stream}
}

func (o *Ops) Stream() *device.Stream { return o.stream }

func (o *Ops) Engine() *kernel.Engine { return o.engine }

// QuantMatmul computes (a x b) scaled per channel by scaleCol and per token
// by scaleRow. Either vector may be nil.
func (o *Ops) QuantMatmul(a, b, scaleCol, scaleRow *tensor.Tensor, outDType string) (*tensor.Tensor, error) {
	dt, err := parseOut(OpQuantMatmul, outDType)
	if err != nil {
		return nil, err
	}
	return o.engine.QuantMatmul(o.stream, a, b, scaleCol, scaleRow, dt)
}

// BatchedQuantMatmul writes scale * (a[i] x b[i]) into out[i] for every batch.
func (o *Ops) BatchedQuantMatmul(a, b, out *tensor.Tensor, outDType string, s float32) error {
	dt, err := parseOut(OpBatchedQuantMatmul, outDType)
	if err != nil {
		return err
	}
	return o.engine.BatchedQuantMatmul(o.stream, a, b, out, dt, scale.Scalar(s))
}

// OptimizedQuantMatmul is QuantMatmul restricted to a uniform scale.
func (o *Ops) OptimizedQuantMatmul(a, b *tensor.Tensor, s float32, outDType string) (*tensor.Tensor, error) {
	dt, err := parseOut(OpOptimizedQuantMatmul, outDType)
	if err != nil {
		return nil, err
	}
	return o.engine.OptimizedQuantMatmul(o.stream, a, b, scale.Scalar(s), dt)
}

// Synchronize blocks until every op enqueued so far has run.
func (o *Ops) Synchronize(ctx context.Context) error {
	return o.stream.Synchronize(ctx)
}

func parseOut(op, name string) (dtype.DType, error) {
	dt, err := dtype.Parse(name)
	if err != nil {
		return dtype.Invalid, &tensor.DTypeError{Op: op, What: fmt.Sprintf("out_dtype %q", name), Got: dtype.Invalid}
	}
	if !dt.IsHalf() {
		return dtype.Invalid, &tensor.DTypeError{Op: op, What: "out_dtype", Got: dt}
	}
	return dt, nil
}
