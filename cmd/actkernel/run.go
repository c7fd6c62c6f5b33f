package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/logger"
	"github.com/samcharles93/actkernel/internal/safetensors"
	"github.com/samcharles93/actkernel/internal/tensor"
	"github.com/samcharles93/actkernel/pkg/act"
)

// runInputs are the tensors read from the input file.
type runInputs struct {
	a, b     *tensor.Tensor
	col, row *tensor.Tensor
}

func loadRunInputs(path string, withVectors bool) (runInputs, error) {
	var in runInputs
	f, err := safetensors.Open(path)
	if err != nil {
		return in, err
	}
	defer func() { _ = f.Close() }()

	if in.a, err = f.Tensor("a"); err != nil {
		return in, err
	}
	if in.b, err = f.Tensor("b"); err != nil {
		return in, err
	}
	if !withVectors {
		return in, nil
	}
	if _, ok := f.Info("scale_col"); ok {
		if in.col, err = f.Tensor("scale_col"); err != nil {
			return in, err
		}
	}
	if _, ok := f.Info("scale_row"); ok {
		if in.row, err = f.Tensor("scale_row"); err != nil {
			return in, err
		}
	}
	return in, nil
}

func runCmd() *cli.Command {
	var (
		inPath   string
		outPath  string
		op       string
		outDType string
		scaleVal float64
		vectors  bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run one act op on operands from a safetensors file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "input .safetensors with a, b and optional scale_col/scale_row", Required: true, Destination: &inPath},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output .safetensors path", Required: true, Destination: &outPath},
			&cli.StringFlag{Name: "op", Usage: "quant_matmul, batched_quant_matmul or optimized_quant_matmul", Value: act.OpQuantMatmul, Destination: &op},
			&cli.StringFlag{Name: "out-dtype", Usage: "float16 or bfloat16", Value: "float16", Destination: &outDType},
			&cli.FloatFlag{Name: "scale", Usage: "uniform scale for the batched and optimized ops", Value: 1, Destination: &scaleVal},
			&cli.BoolFlag{Name: "vectors", Usage: "use scale_col/scale_row from the input for quant_matmul", Value: true, Destination: &vectors},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			in, err := loadRunInputs(inPath, vectors && op == act.OpQuantMatmul)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read %s: %v", inPath, err), 1)
			}

			sess, err := openSession(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer sess.Close()
			ops := act.New(sess.engine, sess.stream)

			start := time.Now()
			out, err := dispatch(ops, op, in, outDType, float32(scaleVal))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %s: %v", op, err), 1)
			}
			if err := ops.Synchronize(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("error: %s: %v", op, err), 1)
			}
			elapsed := time.Since(start)

			meta := map[string]string{
				"op":    act.Namespace + "::" + op,
				"input": inPath,
				"scale": strconv.FormatFloat(scaleVal, 'g', -1, 32),
			}
			if err := safetensors.Write(outPath, map[string]*tensor.Tensor{"out": out}, meta); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", outPath, err), 1)
			}
			log.Info("op complete", "op", op, "out", out.String(), "elapsed", elapsed.Round(time.Microsecond), "path", outPath)
			return nil
		},
	}
}

// dispatch enqueues op and returns its (not yet valid) result.
func dispatch(ops *act.Ops, op string, in runInputs, outDType string, s float32) (*tensor.Tensor, error) {
	switch op {
	case act.OpQuantMatmul:
		return ops.QuantMatmul(in.a, in.b, in.col, in.row, outDType)
	case act.OpOptimizedQuantMatmul:
		return ops.OptimizedQuantMatmul(in.a, in.b, s, outDType)
	case act.OpBatchedQuantMatmul:
		dt, err := dtype.Parse(outDType)
		if err != nil {
			return nil, err
		}
		if in.a.Rank() != 3 || in.b.Rank() != 3 {
			return nil, tensor.ShapeErrorf(op, "a and b must be rank 3, got %v and %v", in.a.Shape, in.b.Shape)
		}
		out, err := tensor.New(dt, in.a.Dim(0), in.a.Dim(1), in.b.Dim(2))
		if err != nil {
			return nil, err
		}
		if err := ops.BatchedQuantMatmul(in.a, in.b, out, outDType, s); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown op %q (have %v)", op, act.Names())
	}
}
