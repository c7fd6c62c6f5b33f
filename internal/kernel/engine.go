// Package kernel implements the INT8 x INT8 matmul family with fused
// dequantization: a general per-token/per-channel kernel, its batched
// in-place form, a packed uniform-scale variant and a grouped slice-K kernel.
//
// Entry points validate everything synchronously and return precondition
// errors before any work is enqueued. The compute itself runs later on the
// supplied Executor, typically a device stream, and its results are valid
// once that executor has been synchronized.
package kernel

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/samcharles93/actkernel/internal/logger"
)

// Executor accepts asynchronous work in order. *device.Stream implements it.
type Executor interface {
	Enqueue(name string, fn func() error) error
}

// Inline runs work immediately on the calling goroutine.
type Inline struct{}

func (Inline) Enqueue(_ string, fn func() error) error { return fn() }

// Options configure an Engine.
type Options struct {
	// Workers caps the persistent pool. Zero means GOMAXPROCS.
	Workers int
	// Tiles overrides tile selection for every call when non-zero.
	Tiles TileConfig
	Logger logger.Logger
	// Tuner, when set, is consulted before the built-in heuristic.
	Tuner *Autotuner
}

// Engine owns the worker pool shared by all kernels.
type Engine struct {
	pool   *workerPool
	tiles  TileConfig
	tuner  *Autotuner
	log    logger.Logger
	closed atomic.Bool
}

func NewEngine(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		pool:  newWorkerPool(workers),
		tiles: opts.Tiles,
		tuner: opts.Tuner,
		log:   log.With("component", "kernel"),
	}
}

// Workers is the size of the pool.
func (e *Engine) Workers() int { return e.pool.size }

// Tuner returns the attached autotuner, if any.
func (e *Engine) Tuner() *Autotuner { return e.tuner }

// Close stops the pool. Work already enqueued on executors must have been
// synchronized first.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.pool.close()
	}
}

// tilesFor resolves the blocking for one product, fitted to its size.
func (e *Engine) tilesFor(m, k, n int) TileConfig {
	cfg := e.tiles
	if cfg.IsZero() {
		if tuned, ok := e.tuner.Lookup(Shape{M: m, K: k, N: n}); ok {
			cfg = tuned
		} else {
			cfg = SelectTileConfig(m, k, n)
		}
	}
	return cfg.fit(m, k, n)
}

// launch runs j over all tiles, never using more parts than there are tiles.
func (e *Engine) launch(j job, tiles int) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.pool.run(j, min(tiles, e.pool.size))
}

func (e *Engine) enqueue(ex Executor, op string, fn func() error) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return ex.Enqueue(op, fn)
}

func (e *Engine) debugDispatch(op string, d dims, cfg TileConfig, sw swizzle, extra ...any) {
	if !e.log.Enabled(slog.LevelDebug) {
		return
	}
	args := []any{
		"op", op,
		"batch", d.batch, "m", d.m, "k", d.k, "n", d.n,
		"tiles", cfg.String(), "swizzle", sw.direction(), "blocks", sw.count(),
		"workers", min(sw.count()*d.batch, e.pool.size),
	}
	e.log.Debug("dispatch", append(args, extra...)...)
}
