package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/logger"
	"github.com/samcharles93/actkernel/internal/reference"
	"github.com/samcharles93/actkernel/internal/tensor"
	"github.com/samcharles93/actkernel/internal/version"
	"github.com/samcharles93/actkernel/pkg/act"
)

// defaultBenchSizes are (M, K, N) triples.
const defaultBenchSizes = "512x256x1024,1024x2048x8192,64x8192x512,128x8192x4096,256x8192x2048," +
	"512x8192x1024,1024x8192x512,2048x8192x256,4096x8192x128,8192x8192x64"

const maxInflight = 8

type benchSize struct {
	M, K, N int
}

func (s benchSize) String() string { return fmt.Sprintf("%dx%dx%d", s.M, s.K, s.N) }

// benchRow is one line of the report. Durations are per call in
// microseconds.
type benchRow struct {
	M           int               `json:"m"`
	N           int               `json:"n"`
	K           int               `json:"k"`
	Tiles       kernel.TileConfig `json:"tiles"`
	BatchedUS   float64           `json:"duration_batched_us"`
	SingleUS    float64           `json:"duration_single_us"`
	OptimizedUS float64           `json:"duration_optimized_us"`
	ReferenceUS float64           `json:"duration_reference_us"`
}

type benchReport struct {
	Version string      `json:"version"`
	Device  device.Info `json:"device"`
	Workers int         `json:"workers"`
	Warmup  int         `json:"warmup"`
	Repeat  int         `json:"repeat"`
	Batch   int         `json:"batch"`
	Rows    []benchRow  `json:"rows"`
}

func parseBenchSizes(list string) ([]benchSize, error) {
	var sizes []benchSize
	for field := range strings.SplitSeq(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		parts := strings.Split(field, "x")
		if len(parts) != 3 {
			return nil, fmt.Errorf("size %q: want MxKxN", field)
		}
		var dims [3]int
		for i, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("size %q: bad dimension %q", field, p)
			}
			dims[i] = v
		}
		sizes = append(sizes, benchSize{M: dims[0], K: dims[1], N: dims[2]})
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no sizes given")
	}
	return sizes, nil
}

func benchCmd() *cli.Command {
	var (
		sizesFlag string
		warmup    int64
		repeat    int64
		refRepeat int64
		batch     int64
		csvPath   string
		jsonPath  string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time the act kernels against the float reference over a size sweep",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "sizes",
				Usage:       "comma separated MxKxN list",
				Value:       defaultBenchSizes,
				Destination: &sizesFlag,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "untimed calls per op",
				Value:       5,
				Destination: &warmup,
			},
			&cli.Int64Flag{
				Name:        "repeat",
				Aliases:     []string{"n"},
				Usage:       "timed calls per op",
				Value:       100,
				Destination: &repeat,
			},
			&cli.Int64Flag{
				Name:        "ref-repeat",
				Usage:       "timed reference calls",
				Value:       1,
				Destination: &refRepeat,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Usage:       "batch size for batched_quant_matmul",
				Value:       1,
				Destination: &batch,
			},
			&cli.StringFlag{
				Name:        "csv",
				Usage:       "write results as CSV",
				Value:       "quant_matmul_benchmark_batch.csv",
				Destination: &csvPath,
			},
			&cli.StringFlag{
				Name:        "json",
				Usage:       "write results as JSON",
				Destination: &jsonPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyBenchConfig(cmd, fileConfig, &warmup, &repeat)

			sizes, err := parseBenchSizes(sizesFlag)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if repeat <= 0 || batch <= 0 || warmup < 0 {
				return cli.Exit("error: --repeat and --batch must be positive", 1)
			}

			sess, err := openSession(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer sess.Close()

			report := benchReport{
				Version: version.String(),
				Device:  sess.dev.Info(),
				Workers: sess.engine.Workers(),
				Warmup:  int(warmup),
				Repeat:  int(repeat),
				Batch:   int(batch),
			}

			fmt.Println("=== actkernel Benchmark ===")
			fmt.Printf("Device:     %s\n", report.Device)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("Workers:    %d\n", report.Workers)
			fmt.Printf("Warmup:     %d\n", warmup)
			fmt.Printf("Repeat:     %d\n", repeat)
			fmt.Printf("Batch:      %d\n", batch)

			b := bencher{sess: sess, ops: act.New(sess.engine, sess.stream), warmup: int(warmup), repeat: int(repeat), refRepeat: int(max(refRepeat, 1))}
			for _, size := range sizes {
				fmt.Printf("\nBenchmarking M=%d, K=%d, N=%d\n", size.M, size.K, size.N)
				row, err := b.run(ctx, size, int(batch))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %s: %v", size, err), 1)
				}
				log.Debug("bench row", "size", size.String(), "tiles", row.Tiles.String())
				fmt.Printf("batched_quant_matmul:\t%.2f us\n", row.BatchedUS)
				fmt.Printf("quant_matmul:\t\t%.2f us\n", row.SingleUS)
				fmt.Printf("optimized_quant_matmul:\t%.2f us\n", row.OptimizedUS)
				fmt.Printf("reference:\t\t%.2f us\n", row.ReferenceUS)
				fmt.Printf("Speedup (single/batched):\t%.2fx\n", row.SingleUS/row.BatchedUS)
				fmt.Printf("Speedup (single/optimized):\t%.2fx\n", row.SingleUS/row.OptimizedUS)
				fmt.Printf("Speedup (reference/optimized):\t%.2fx\n", row.ReferenceUS/row.OptimizedUS)
				report.Rows = append(report.Rows, row)
			}

			if csvPath != "" {
				if err := writeFile(csvPath, func(w io.Writer) error { return writeBenchCSV(w, report.Rows) }); err != nil {
					return cli.Exit(fmt.Sprintf("error: write csv: %v", err), 1)
				}
				log.Info("wrote csv", "path", csvPath)
			}
			if jsonPath != "" {
				if err := writeFile(jsonPath, func(w io.Writer) error { return writeBenchJSON(w, report) }); err != nil {
					return cli.Exit(fmt.Sprintf("error: write json: %v", err), 1)
				}
				log.Info("wrote json", "path", jsonPath)
			}
			return nil
		},
	}
}

type bencher struct {
	sess      *session
	ops       *act.Ops
	warmup    int
	repeat    int
	refRepeat int
}

// benchOperands are the tensors for one size. Batch 0 of a and b feeds the
// single-matrix ops.
type benchOperands struct {
	a, b     *tensor.Tensor
	out      *tensor.Tensor
	col, row *tensor.Tensor
	af, bf   []float32
}

func prepareOperands(size benchSize, batch int) (*benchOperands, error) {
	ops := &benchOperands{}
	var g errgroup.Group
	g.Go(func() error {
		var err error
		ops.a, err = tensor.RandInt8(0, -16, 16, batch, size.M, size.K)
		if err == nil {
			ops.af = ops.a.Batch(0).ToFloat32()
		}
		return err
	})
	g.Go(func() error {
		var err error
		ops.b, err = tensor.RandInt8(1, -16, 16, batch, size.K, size.N)
		if err == nil {
			ops.bf = ops.b.Batch(0).ToFloat32()
		}
		return err
	})
	g.Go(func() error {
		var err error
		ops.out, err = tensor.New(dtype.Float16, batch, size.M, size.N)
		return err
	})
	g.Go(func() error {
		var err error
		if ops.col, err = tensor.Full(dtype.BFloat16, 1, size.N); err != nil {
			return err
		}
		ops.row, err = tensor.Full(dtype.BFloat16, 1, size.M)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ops, nil
}

func (b *bencher) run(ctx context.Context, size benchSize, batch int) (benchRow, error) {
	row := benchRow{M: size.M, N: size.N, K: size.K}
	in, err := prepareOperands(size, batch)
	if err != nil {
		return row, err
	}
	a0, b0 := in.a.Batch(0), in.b.Batch(0)

	if tuner := b.sess.engine.Tuner(); tuner != nil {
		if row.Tiles, err = b.sess.engine.Tune(kernel.Shape{M: size.M, K: size.K, N: size.N}, 1); err != nil {
			return row, err
		}
	} else {
		row.Tiles = kernel.SelectTileConfig(size.M, size.K, size.N)
	}

	batched := func() error { return b.ops.BatchedQuantMatmul(in.a, in.b, in.out, "float16", 1.0) }
	single := func() error {
		_, err := b.ops.QuantMatmul(a0, b0, in.col, in.row, "bf16")
		return err
	}
	optimized := func() error {
		_, err := b.ops.OptimizedQuantMatmul(a0, b0, 1.0, "float16")
		return err
	}

	for range b.warmup {
		for _, fn := range []func() error{batched, single, optimized} {
			if err := fn(); err != nil {
				return row, err
			}
		}
	}
	if err := b.ops.Synchronize(ctx); err != nil {
		return row, err
	}

	if row.BatchedUS, err = b.timeOp(ctx, batched); err != nil {
		return row, err
	}
	if row.SingleUS, err = b.timeOp(ctx, single); err != nil {
		return row, err
	}
	if row.OptimizedUS, err = b.timeOp(ctx, optimized); err != nil {
		return row, err
	}

	start := time.Now()
	for range b.refRepeat {
		_ = reference.Gemm(in.af, size.M, size.K, in.bf, size.N)
	}
	row.ReferenceUS = float64(time.Since(start).Microseconds()) / float64(b.refRepeat)
	return row, nil
}

// timeOp enqueues repeat calls between two events and returns the mean
// per-call duration in microseconds.
func (b *bencher) timeOp(ctx context.Context, fn func() error) (float64, error) {
	stream := b.ops.Stream()
	if err := stream.Synchronize(ctx); err != nil {
		return 0, err
	}
	start, err := stream.Record()
	if err != nil {
		return 0, err
	}
	// Bound the calls in flight so queued outputs do not pile up.
	marks := make([]*device.Event, 0, b.repeat)
	for i := range b.repeat {
		if err := fn(); err != nil {
			return 0, err
		}
		mark, err := stream.Record()
		if err != nil {
			return 0, err
		}
		marks = append(marks, mark)
		if i >= maxInflight {
			if err := marks[i-maxInflight].Wait(ctx); err != nil {
				return 0, err
			}
		}
	}
	end, err := stream.Record()
	if err != nil {
		return 0, err
	}
	if err := stream.Synchronize(ctx); err != nil {
		return 0, err
	}
	elapsed, err := start.Elapsed(end)
	if err != nil {
		return 0, err
	}
	return float64(elapsed.Nanoseconds()) / 1e3 / float64(b.repeat), nil
}

func writeBenchCSV(w io.Writer, rows []benchRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"M", "N", "K",
		"duration_batched_us",
		"duration_single_us",
		"duration_optimized_us",
		"duration_reference_us",
	}); err != nil {
		return err
	}
	us := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.Itoa(r.M), strconv.Itoa(r.N), strconv.Itoa(r.K),
			us(r.BatchedUS), us(r.SingleUS), us(r.OptimizedUS), us(r.ReferenceUS),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeBenchJSON(w io.Writer, report benchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
