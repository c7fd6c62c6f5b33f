package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/logger"
	"github.com/samcharles93/actkernel/internal/safetensors"
	"github.com/samcharles93/actkernel/internal/tensor"
)

func genCmd() *cli.Command {
	var (
		outPath    string
		m, k, n    int64
		batch      int64
		seed       int64
		low, high  int64
		scaleDType string
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Write random int8 operands and unit scales to a safetensors file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output .safetensors path", Required: true, Destination: &outPath},
			&cli.Int64Flag{Name: "m", Usage: "rows of a", Value: 32, Destination: &m},
			&cli.Int64Flag{Name: "k", Usage: "reduction length", Value: 32, Destination: &k},
			&cli.Int64Flag{Name: "n", Usage: "columns of b", Value: 32, Destination: &n},
			&cli.Int64Flag{Name: "batch", Usage: "leading batch dimension (0 for plain matrices)", Value: 0, Destination: &batch},
			&cli.Int64Flag{Name: "seed", Value: 0, Destination: &seed},
			&cli.Int64Flag{Name: "low", Usage: "inclusive lower bound", Value: -16, Destination: &low},
			&cli.Int64Flag{Name: "high", Usage: "exclusive upper bound", Value: 16, Destination: &high},
			&cli.StringFlag{Name: "scale-dtype", Usage: "element type of the scale vectors", Value: "bf16", Destination: &scaleDType},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			sdt, err := dtype.Parse(scaleDType)
			if err != nil || !sdt.IsFloat() {
				return cli.Exit(fmt.Sprintf("error: --scale-dtype %q must be a float type", scaleDType), 1)
			}
			tensors, err := genOperands(uint64(seed), int(low), int(high), int(batch), int(m), int(k), int(n), sdt)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			meta := map[string]string{
				"seed": strconv.FormatInt(seed, 10),
				"low":  strconv.FormatInt(low, 10),
				"high": strconv.FormatInt(high, 10),
			}
			if err := safetensors.Write(outPath, tensors, meta); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", outPath, err), 1)
			}
			log.Info("wrote operands", "path", outPath, "a", tensors["a"].String(), "b", tensors["b"].String())
			return nil
		},
	}
}

// genOperands builds a, b and unit scale_col/scale_row vectors. batch > 0
// adds a leading batch dimension to a and b.
func genOperands(seed uint64, low, high, batch, m, k, n int, scaleDType dtype.DType) (map[string]*tensor.Tensor, error) {
	aShape, bShape := []int{m, k}, []int{k, n}
	if batch > 0 {
		aShape = append([]int{batch}, aShape...)
		bShape = append([]int{batch}, bShape...)
	}
	a, err := tensor.RandInt8(seed, low, high, aShape...)
	if err != nil {
		return nil, err
	}
	b, err := tensor.RandInt8(seed+1, low, high, bShape...)
	if err != nil {
		return nil, err
	}
	col, err := tensor.Full(scaleDType, 1, n)
	if err != nil {
		return nil, err
	}
	row, err := tensor.Full(scaleDType, 1, m)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{"a": a, "b": b, "scale_col": col, "scale_row": row}, nil
}
