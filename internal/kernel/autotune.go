package kernel

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// Shape keys the tuning cache.
type Shape struct {
	M int `json:"m"`
	K int `json:"k"`
	N int `json:"n"`
}

// Tuned is a cached winner. Score is higher-is-better (ops per second when
// produced by Engine.Tune).
type Tuned struct {
	Cfg   TileConfig `json:"tiles"`
	Score float64    `json:"score"`
}

// Autotuner remembers the best tile config per shape.
type Autotuner struct {
	mu    sync.RWMutex
	cache map[Shape]Tuned
}

func NewAutotuner() *Autotuner {
	return &Autotuner{cache: make(map[Shape]Tuned)}
}

// Lookup returns the cached config for shape. A nil tuner never hits.
func (t *Autotuner) Lookup(shape Shape) (TileConfig, bool) {
	if t == nil {
		return TileConfig{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	tuned, ok := t.cache[shape]
	return tuned.Cfg, ok
}

// GetConfig returns the cached config for shape or scores base and its
// candidates with run and caches the best one.
func (t *Autotuner) GetConfig(shape Shape, base TileConfig, run func(cfg TileConfig) float64) TileConfig {
	if cfg, ok := t.Lookup(shape); ok {
		return cfg
	}

	best := Tuned{Cfg: base, Score: run(base)}
	for _, cfg := range candidateConfigs(base) {
		if score := run(cfg); score > best.Score {
			best = Tuned{Cfg: cfg, Score: score}
		}
	}

	t.mu.Lock()
	t.cache[shape] = best
	t.mu.Unlock()
	return best.Cfg
}

// Entries returns a copy of the cache.
func (t *Autotuner) Entries() map[Shape]Tuned {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Shape]Tuned, len(t.cache))
	for k, v := range t.cache {
		out[k] = v
	}
	return out
}

// SortedShapes returns the cached shapes ordered by M, K, N.
func (t *Autotuner) SortedShapes() []Shape {
	entries := t.Entries()
	shapes := make([]Shape, 0, len(entries))
	for s := range entries {
		shapes = append(shapes, s)
	}
	sort.Slice(shapes, func(i, j int) bool {
		a, b := shapes[i], shapes[j]
		if a.M != b.M {
			return a.M < b.M
		}
		if a.K != b.K {
			return a.K < b.K
		}
		return a.N < b.N
	})
	return shapes
}

func candidateConfigs(base TileConfig) []TileConfig {
	var out []TileConfig
	seen := map[TileConfig]bool{base: true}
	add := func(cfg TileConfig) {
		cfg = TileConfig{
			TileM: clampTile(cfg.TileM, maxTileM),
			TileN: clampTile(cfg.TileN, maxTileN),
			TileK: clampTile(cfg.TileK, maxTileK),
		}
		if !seen[cfg] {
			seen[cfg] = true
			out = append(out, cfg)
		}
	}
	for _, tk := range []int{base.TileK / 2, base.TileK * 2, 128, 512} {
		if tk > 0 {
			cfg := base
			cfg.TileK = tk
			add(cfg)
		}
	}
	for _, mn := range [][2]int{{32, 128}, {64, 128}, {128, 64}, {128, 128}, {32, 256}} {
		cfg := base
		cfg.TileM, cfg.TileN = mn[0], mn[1]
		add(cfg)
	}
	return out
}

// Tune measures the general kernel on random operands of the given shape
// for each candidate blocking and caches the fastest. It runs synchronously
// on the engine's pool and returns the chosen config.
func (e *Engine) Tune(shape Shape, reps int) (TileConfig, error) {
	if e.tuner == nil {
		return SelectTileConfig(shape.M, shape.K, shape.N), nil
	}
	d, err := checkShape("autotune", shape)
	if err != nil {
		return TileConfig{}, err
	}
	reps = max(reps, 1)

	rng := rand.New(rand.NewPCG(uint64(d.m), uint64(d.n)))
	a := make([]int8, d.m*d.k)
	b := make([]int8, d.k*d.n)
	for i := range a {
		a[i] = int8(rng.IntN(32) - 16)
	}
	for i := range b {
		b[i] = int8(rng.IntN(32) - 16)
	}
	out := make([]byte, d.m*d.n*2)

	var runErr error
	base := SelectTileConfig(d.m, d.k, d.n)
	cfg := e.tuner.GetConfig(shape, base, func(cfg TileConfig) float64 {
		cfg = cfg.fit(d.m, d.k, d.n)
		j := &matmulJob{
			a: a, b: b, out: out,
			lda: d.k, ldb: d.n,
			m: d.m, n: d.n,
			kEnd:  d.k,
			batch: 1,
			cfg:   cfg,
			sw:    newSwizzle(d.m, d.n, cfg.TileM, cfg.TileN),
			scale: scale.Resolved{Uniform: 1},
			enc:   dtype.Encoder(dtype.Float16),
		}
		start := time.Now()
		for range reps {
			if err := e.launch(j, j.sw.count()); err != nil {
				runErr = err
				return 0
			}
		}
		return float64(reps) * 2 * float64(d.m) * float64(d.k) * float64(d.n) / time.Since(start).Seconds()
	})
	if runErr != nil {
		return TileConfig{}, runErr
	}
	e.log.Debug("autotuned", "m", d.m, "k", d.k, "n", d.n, "tiles", cfg.String())
	return cfg, nil
}

func checkShape(op string, s Shape) (dims, error) {
	if s.M <= 0 || s.K <= 0 || s.N <= 0 {
		return dims{}, tensor.ShapeErrorf(op, "non-positive shape %dx%dx%d", s.M, s.K, s.N)
	}
	if s.K > MaxAccumK {
		return dims{}, tensor.ShapeErrorf(op, "k=%d exceeds int32 accumulation limit %d", s.K, MaxAccumK)
	}
	return dims{batch: 1, m: s.M, k: s.K, n: s.N}, nil
}
