package kernel

import "fmt"

// Tuned for the 512x256x1024 correctness shape; the selector grows them for
// long K and skinny outputs.
const (
	defaultTileM = 64
	defaultTileN = 64
	defaultTileK = 256

	maxTileM = 128
	maxTileN = 256
	maxTileK = 512

	// packAlign is the K padding used by the packed variant.
	packAlign = 16
)

// TileConfig is the blocking of one matmul: TileM x TileN output tiles with K
// walked in TileK slabs.
type TileConfig struct {
	TileM int `json:"tile_m" yaml:"tile_m"`
	TileN int `json:"tile_n" yaml:"tile_n"`
	TileK int `json:"tile_k" yaml:"tile_k"`
}

func (c TileConfig) String() string {
	return fmt.Sprintf("%dx%dx%d", c.TileM, c.TileN, c.TileK)
}

// IsZero reports an unset config.
func (c TileConfig) IsZero() bool {
	return c == TileConfig{}
}

// Validate rejects tiles outside (0, max].
func (c TileConfig) Validate() error {
	check := func(name string, v, hi int) error {
		if v < 1 || v > hi {
			return fmt.Errorf("tile %s=%d out of range [1, %d]", name, v, hi)
		}
		return nil
	}
	if err := check("m", c.TileM, maxTileM); err != nil {
		return err
	}
	if err := check("n", c.TileN, maxTileN); err != nil {
		return err
	}
	return check("k", c.TileK, maxTileK)
}

func DefaultTileConfig() TileConfig {
	return TileConfig{TileM: defaultTileM, TileN: defaultTileN, TileK: defaultTileK}
}

// MaxTileConfig is the largest blocking the per-worker scratch supports.
func MaxTileConfig() TileConfig {
	return TileConfig{TileM: maxTileM, TileN: maxTileN, TileK: maxTileK}
}

// SelectTileConfig picks a blocking for an [m,k] x [k,n] product.
func SelectTileConfig(m, k, n int) TileConfig {
	cfg := DefaultTileConfig()

	switch {
	case k >= 4096:
		cfg.TileK = 512
	case k <= 64:
		cfg.TileK = 64
	}
	// Skinny outputs: spend the tile budget on the long side.
	switch {
	case m <= 32 && n >= 1024:
		cfg.TileN = 256
	case n <= 64 && m >= 1024:
		cfg.TileM = 128
	case m >= 1024 && n >= 1024:
		cfg.TileM = 128
		cfg.TileN = 128
	}
	return cfg
}

// fit clamps cfg to the limits and then to the problem so small matrices are
// not padded out to full tiles.
func (c TileConfig) fit(m, k, n int) TileConfig {
	return TileConfig{
		TileM: min(clampTile(c.TileM, maxTileM), m),
		TileN: min(clampTile(c.TileN, maxTileN), n),
		TileK: min(clampTile(c.TileK, maxTileK), max(k, 1)),
	}
}

func clampTile(v, hi int) int {
	if v < 1 {
		return 1
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func roundUp(v, align int) int {
	return ceilDiv(v, align) * align
}
