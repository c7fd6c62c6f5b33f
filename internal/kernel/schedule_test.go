package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwizzleVisitsEveryTileOnce(t *testing.T) {
	t.Parallel()

	for _, sh := range [][4]int{
		{512, 1024, 64, 64},
		{1024, 512, 64, 64},
		{8192, 64, 128, 64},
		{64, 8192, 64, 256},
		{100, 100, 7, 9},
		{1, 1, 1, 1},
	} {
		sw := newSwizzle(sh[0], sh[1], sh[2], sh[3])
		seen := make(map[[2]int]bool, sw.count())
		for idx := range sw.count() {
			mi, ni := sw.tile(idx)
			require.GreaterOrEqual(t, mi, 0)
			require.Less(t, mi, sw.loopsM)
			require.GreaterOrEqual(t, ni, 0)
			require.Less(t, ni, sw.loopsN)
			key := [2]int{mi, ni}
			require.False(t, seen[key], "tile %v visited twice for %v", key, sh)
			seen[key] = true
		}
		assert.Len(t, seen, sw.loopsM*sw.loopsN)
	}
}

func TestSwizzleBandOrder(t *testing.T) {
	t.Parallel()

	// 4x2 tiles with M > N: bands of three rows, the second band reversed.
	zn := newSwizzle(4, 2, 1, 1)
	assert.Equal(t, "Zn", zn.direction())
	var got [][2]int
	for idx := range zn.count() {
		mi, ni := zn.tile(idx)
		got = append(got, [2]int{mi, ni})
	}
	assert.Equal(t, [][2]int{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}, {3, 1}, {3, 0}}, got)

	// 2x4 tiles with M <= N: bands of three columns.
	nz := newSwizzle(2, 4, 1, 1)
	assert.Equal(t, "Nz", nz.direction())
	got = got[:0]
	for idx := range nz.count() {
		mi, ni := nz.tile(idx)
		got = append(got, [2]int{mi, ni})
	}
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}, {1, 3}, {0, 3}}, got)
}

func TestSelectTileConfig(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTileConfig(), SelectTileConfig(512, 256, 1024))
	assert.Equal(t, 512, SelectTileConfig(64, 8192, 512).TileK)
	assert.Equal(t, 256, SelectTileConfig(32, 1024, 4096).TileN)
	assert.Equal(t, 128, SelectTileConfig(8192, 8192, 64).TileM)

	for _, sh := range [][3]int{{1, 1, 1}, {8192, 8192, 64}, {64, 8192, 512}, {3, 5, 7}} {
		cfg := SelectTileConfig(sh[0], sh[1], sh[2]).fit(sh[0], sh[1], sh[2])
		require.NoError(t, cfg.Validate(), "%v", sh)
		assert.LessOrEqual(t, cfg.TileM, sh[0])
		assert.LessOrEqual(t, cfg.TileN, sh[2])
		assert.LessOrEqual(t, cfg.TileK, sh[1])
	}
}

func TestTileConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, MaxTileConfig().Validate())
	require.Error(t, TileConfig{TileM: 0, TileN: 16, TileK: 16}.Validate())
	require.Error(t, TileConfig{TileM: 16, TileN: 512, TileK: 16}.Validate())
	require.Error(t, TileConfig{TileM: 16, TileN: 16, TileK: 1024}.Validate())
	assert.True(t, TileConfig{}.IsZero())

	fitted := TileConfig{TileM: 1000, TileN: -3, TileK: 64}.fit(500, 32, 20)
	assert.Equal(t, TileConfig{TileM: 128, TileN: 1, TileK: 32}, fitted)
}

func TestAutotunerCachesBest(t *testing.T) {
	t.Parallel()

	tuner := NewAutotuner()
	shape := Shape{M: 64, K: 128, N: 64}
	calls := 0
	best := TileConfig{TileM: 128, TileN: 128, TileK: 256}
	cfg := tuner.GetConfig(shape, DefaultTileConfig(), func(cfg TileConfig) float64 {
		calls++
		if cfg == best {
			return 10
		}
		return 1
	})
	assert.Equal(t, best, cfg)
	assert.Equal(t, len(candidateConfigs(DefaultTileConfig()))+1, calls)

	again := tuner.GetConfig(shape, DefaultTileConfig(), func(TileConfig) float64 {
		t.Fatal("cached shape must not be re-measured")
		return 0
	})
	assert.Equal(t, best, again)

	var nilTuner *Autotuner
	_, ok := nilTuner.Lookup(shape)
	assert.False(t, ok)
}

func TestEngineTunePopulatesLookup(t *testing.T) {
	t.Parallel()
	tuner := NewAutotuner()
	e, _ := newTestEngine(t, Options{Tuner: tuner, Workers: 2})

	shape := Shape{M: 48, K: 64, N: 40}
	cfg, err := e.Tune(shape, 1)
	require.NoError(t, err)

	cached, ok := tuner.Lookup(shape)
	require.True(t, ok)
	assert.Equal(t, cfg, cached)
	assert.Equal(t, []Shape{shape}, tuner.SortedShapes())
	assert.Equal(t, cached.fit(48, 64, 40), e.tilesFor(48, 64, 40))

	_, err = e.Tune(Shape{M: 0, K: 1, N: 1}, 1)
	require.Error(t, err)
}

func TestPackedTilesUseTunedConfigForUnalignedK(t *testing.T) {
	t.Parallel()
	tuner := NewAutotuner()
	e, _ := newTestEngine(t, Options{Tuner: tuner, Workers: 2})

	shape := Shape{M: 64, K: 40, N: 48}
	tuned := TileConfig{TileM: 16, TileN: 16, TileK: 40}
	tuner.GetConfig(shape, tuned, func(cfg TileConfig) float64 {
		if cfg == tuned {
			return 10
		}
		return 1
	})
	got, ok := tuner.Lookup(shape)
	require.True(t, ok)
	require.Equal(t, tuned, got)

	cfg, kp := e.packedTiles(shape.M, shape.K, shape.N)
	assert.Equal(t, 48, kp)
	assert.Equal(t, TileConfig{TileM: 16, TileN: 16, TileK: 48}, cfg)
}

func TestPoolRunAfterCloseDoesNotPanic(t *testing.T) {
	t.Parallel()
	p := newWorkerPool(4)
	noop := funcJob(func(int, int, *scratch) {})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if err := p.run(noop, 4); err != nil {
					assert.ErrorIs(t, err, ErrEngineClosed)
					return
				}
			}
		}()
	}
	p.close()
	wg.Wait()

	require.ErrorIs(t, p.run(noop, 4), ErrEngineClosed)
	p.close()
}

func TestCandidateConfigsAreValidAndUnique(t *testing.T) {
	t.Parallel()

	base := DefaultTileConfig()
	seen := map[TileConfig]bool{base: true}
	for _, cfg := range candidateConfigs(base) {
		require.NoError(t, cfg.Validate())
		require.False(t, seen[cfg], "duplicate %v", cfg)
		seen[cfg] = true
	}
}
