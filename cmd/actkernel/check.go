package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/logger"
	"github.com/samcharles93/actkernel/internal/reference"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
	"github.com/samcharles93/actkernel/pkg/act"
)

func checkCmd() *cli.Command {
	var (
		seed  int64
		size  int64
		batch int64
		low   int64
		high  int64
	)

	return &cli.Command{
		Name:  "check",
		Usage: "Compare every kernel against the dense float reference",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "seed", Usage: "operand seed", Value: 0, Destination: &seed},
			&cli.Int64Flag{Name: "size", Usage: "M = N = K", Value: 32, Destination: &size},
			&cli.Int64Flag{Name: "batch", Usage: "batch size for batched_quant_matmul", Value: 12, Destination: &batch},
			&cli.Int64Flag{Name: "low", Usage: "inclusive lower bound of operand values", Value: -16, Destination: &low},
			&cli.Int64Flag{Name: "high", Usage: "exclusive upper bound of operand values", Value: 16, Destination: &high},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			sess, err := openSession(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer sess.Close()
			ops := act.New(sess.engine, sess.stream)

			n := int(size)
			s := uint64(seed)
			a, err := tensor.RandInt8(s, int(low), int(high), int(batch), n, n)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: operands: %v", err), 1)
			}
			b, err := tensor.RandInt8(s+1, int(low), int(high), int(batch), n, n)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: operands: %v", err), 1)
			}
			log.Info("checking kernels", "seed", seed, "batch", batch, "m", n, "k", n, "n", n, "device", sess.dev.String())

			results, err := enqueueChecks(ops, a, b, s)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			// References are computed while the stream drains.
			var g errgroup.Group
			for _, r := range results {
				g.Go(func() error {
					want, err := r.reference()
					r.want = want
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return cli.Exit(fmt.Sprintf("error: reference: %v", err), 1)
			}
			if err := ops.Synchronize(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("error: device: %v", err), 1)
			}

			var failed []string
			for _, r := range results {
				tol, err := reference.KernelTolerance(r.kernel())
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if err := reference.AllClose(r.got, r.want, tol); err != nil {
					log.Warn("mismatch", "op", r.op, "error", err)
					failed = append(failed, r.op)
					continue
				}
				log.Debug("matched", "op", r.op, "max_abs_diff", reference.MaxAbsDiff(r.got.ToFloat32(), r.want.ToFloat32()))
			}
			for _, line := range verdicts(failed) {
				fmt.Println(line)
			}
			if len(failed) > 0 {
				return cli.Exit(fmt.Sprintf("%d kernel(s) did not match: %s", len(failed), strings.Join(failed, ", ")), 1)
			}
			return nil
		},
	}
}

// pendingCheck pairs an enqueued kernel result with the reference that
// validates it. want is filled in by the reference goroutine.
type pendingCheck struct {
	op        string
	got       *tensor.Tensor
	reference func() (*tensor.Tensor, error)
	want      *tensor.Tensor
}

// kernel is the tolerance table key for the check.
func (p *pendingCheck) kernel() string {
	op, _ := strings.CutPrefix(p.op, act.Namespace+"::")
	return op
}

// enqueueChecks dispatches the batched and per-token/per-channel checks plus the
// optimized and grouped kernels. Nothing has run when it returns.
func enqueueChecks(ops *act.Ops, a, b *tensor.Tensor, seed uint64) ([]*pendingCheck, error) {
	m, k, n := a.Dim(1), a.Dim(2), b.Dim(2)
	a0, b0 := a.Batch(0), b.Batch(0)

	out, err := tensor.New(dtype.Float16, a.Dim(0), m, n)
	if err != nil {
		return nil, err
	}
	if err := ops.BatchedQuantMatmul(a, b, out, "float16", 1.0); err != nil {
		return nil, err
	}

	colOnes, err := tensor.Full(dtype.BFloat16, 1, n)
	if err != nil {
		return nil, err
	}
	rowOnes, err := tensor.Full(dtype.BFloat16, 1, m)
	if err != nil {
		return nil, err
	}
	qmm, err := ops.QuantMatmul(a0, b0, colOnes, rowOnes, "bf16")
	if err != nil {
		return nil, err
	}

	opt, err := ops.OptimizedQuantMatmul(a0, b0, 1.0, "float16")
	if err != nil {
		return nil, err
	}

	// Four groups over K, one of them empty.
	ends := []int64{int64(k / 4), int64(k / 4), int64(k * 3 / 4), int64(k)}
	groups := len(ends)
	gScale, err := tensor.RandFloat(seed+2, dtype.BFloat16, 0.5, 1.5, groups, n)
	if err != nil {
		return nil, err
	}
	gToken, err := tensor.RandFloat(seed+3, dtype.BFloat16, 0.5, 1.5, groups, m)
	if err != nil {
		return nil, err
	}
	grouped, err := ops.Engine().GroupedQuantMatmulSliceK(ops.Stream(), a0, b0, ends, gScale, gToken, dtype.BFloat16)
	if err != nil {
		return nil, err
	}

	return []*pendingCheck{
		{
			op:        "act::batched_quant_matmul",
			got:       out,
			reference: func() (*tensor.Tensor, error) { return reference.BatchedQuantMatmul(a, b, 1.0, dtype.Float16) },
		},
		{
			op:  "act::quant_matmul",
			got: qmm,
			reference: func() (*tensor.Tensor, error) {
				return reference.QuantMatmul(a0, b0, scale.PerTokenChannel(rowOnes, colOnes), dtype.BFloat16)
			},
		},
		{
			op:        "act::optimized_quant_matmul",
			got:       opt,
			reference: func() (*tensor.Tensor, error) { return reference.QuantMatmul(a0, b0, scale.Scalar(1), dtype.Float16) },
		},
		{
			op:  "grouped_matmul_slice_k",
			got: grouped,
			reference: func() (*tensor.Tensor, error) {
				return reference.GroupedSliceK(a0, b0, ends, gScale, gToken, dtype.BFloat16)
			},
		},
	}, nil
}

func verdicts(failed []string) []string {
	if len(failed) == 0 {
		return []string{"All act kernels matched with baseline!"}
	}
	lines := make([]string, len(failed))
	for i, op := range failed {
		lines[i] = op + " did not match the results of the reference baseline!"
	}
	return lines
}
