package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/reference"
	"github.com/samcharles93/actkernel/internal/safetensors"
	"github.com/samcharles93/actkernel/pkg/act"
)

func testOps(t *testing.T) *act.Ops {
	t.Helper()
	dev, err := device.Open(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	stream := dev.NewStream()
	engine := kernel.NewEngine(kernel.Options{Workers: 2})
	t.Cleanup(func() {
		_ = stream.Close()
		engine.Close()
	})
	return act.New(engine, stream)
}

func TestParseBenchSizes(t *testing.T) {
	sizes, err := parseBenchSizes(defaultBenchSizes)
	if err != nil {
		t.Fatalf("default sizes: %v", err)
	}
	if len(sizes) != 10 || sizes[0] != (benchSize{M: 512, K: 256, N: 1024}) || sizes[9] != (benchSize{M: 8192, K: 8192, N: 64}) {
		t.Fatalf("unexpected sizes: %v", sizes)
	}

	for _, bad := range []string{"", "1x2", "1x0x3", "ax2x3", "1x2x3x4"} {
		if _, err := parseBenchSizes(bad); err == nil {
			t.Errorf("parseBenchSizes(%q): expected error", bad)
		}
	}
}

func TestWriteBenchCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []benchRow{{M: 64, N: 512, K: 8192, BatchedUS: 1.5, SingleUS: 2, OptimizedUS: 1.25, ReferenceUS: 10}}
	if err := writeBenchCSV(&buf, rows); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0] != "M,N,K,duration_batched_us,duration_single_us,duration_optimized_us,duration_reference_us" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "64,512,8192,1.500000,2.000000,1.250000,10.000000" {
		t.Fatalf("row = %q", lines[1])
	}
}

func TestVerdicts(t *testing.T) {
	if got := verdicts(nil); len(got) != 1 || !strings.Contains(got[0], "matched") {
		t.Fatalf("verdicts(nil) = %v", got)
	}
	got := verdicts([]string{"act::quant_matmul"})
	if len(got) != 1 || !strings.HasPrefix(got[0], "act::quant_matmul did not match") {
		t.Fatalf("verdicts = %v", got)
	}
}

func TestChecksPass(t *testing.T) {
	ops := testOps(t)
	tensors, err := genOperands(0, -16, 16, 12, 32, 32, 32, dtype.BFloat16)
	if err != nil {
		t.Fatal(err)
	}
	checks, err := enqueueChecks(ops, tensors["a"], tensors["b"], 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ops.Synchronize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(checks) != 4 {
		t.Fatalf("got %d checks", len(checks))
	}
	for _, c := range checks {
		want, err := c.reference()
		if err != nil {
			t.Fatalf("%s reference: %v", c.op, err)
		}
		tol, err := reference.KernelTolerance(c.kernel())
		if err != nil {
			t.Fatal(err)
		}
		if err := reference.AllClose(c.got, want, tol); err != nil {
			t.Errorf("%s: %v", c.op, err)
		}
	}
}

func TestGenThenDispatch(t *testing.T) {
	ops := testOps(t)
	path := filepath.Join(t.TempDir(), "operands.safetensors")

	tensors, err := genOperands(7, -16, 16, 2, 8, 24, 16, dtype.Float32)
	if err != nil {
		t.Fatal(err)
	}
	if err := safetensors.Write(path, tensors, nil); err != nil {
		t.Fatal(err)
	}

	in, err := loadRunInputs(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if in.col != nil || in.row != nil {
		t.Fatal("vectors loaded when not requested")
	}
	out, err := dispatch(ops, act.OpBatchedQuantMatmul, in, "bf16", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if err := ops.Synchronize(context.Background()); err != nil {
		t.Fatal(err)
	}
	want, err := reference.BatchedQuantMatmul(in.a, in.b, 0.5, dtype.BFloat16)
	if err != nil {
		t.Fatal(err)
	}
	if err := reference.AllClose(out, want, reference.Tolerance{Abs: 1, Rel: 1e-5}); err != nil {
		t.Fatal(err)
	}

	if _, err := dispatch(ops, "gemm", in, "bf16", 1); err == nil {
		t.Fatal("expected unknown op error")
	}
	if _, err := dispatch(ops, act.OpQuantMatmul, in, "bf16", 1); err == nil {
		t.Fatal("expected rank error for batched operands")
	}
}
