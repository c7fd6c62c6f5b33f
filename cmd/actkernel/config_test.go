package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/actkernel/internal/kernel"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Workers != nil || cfg.Tiles != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}

	path := filepath.Join(dir, "config.yaml")
	body := "log_level: debug\nworkers: 3\ntiles:\n  tile_m: 32\n  tile_n: 128\n  tile_k: 64\nautotune: true\nserver_address: 0.0.0.0:9000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Workers == nil || *cfg.Workers != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Tiles == nil || *cfg.Tiles != (kernel.TileConfig{TileM: 32, TileN: 128, TileK: 64}) {
		t.Fatalf("tiles = %+v", cfg.Tiles)
	}
	if cfg.Autotune == nil || !*cfg.Autotune || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("workers: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyGlobalConfigFillsUnsetFlags(t *testing.T) {
	saved := []any{logLevel, workers, tileM, tileN, tileK, autotune}
	t.Cleanup(func() {
		logLevel = saved[0].(string)
		workers = saved[1].(int64)
		tileM, tileN, tileK = saved[2].(int64), saved[3].(int64), saved[4].(int64)
		autotune = saved[5].(bool)
	})

	w := int64(6)
	on := true
	cfg := Config{
		LogLevel: "warn",
		Workers:  &w,
		Tiles:    &kernel.TileConfig{TileM: 16, TileN: 32, TileK: 64},
		Autotune: &on,
	}
	applyGlobalConfig(&cli.Command{}, cfg)

	if logLevel != "warn" || workers != 6 || !autotune {
		t.Fatalf("config not applied: level=%s workers=%d autotune=%v", logLevel, workers, autotune)
	}
	got, err := tileOverride()
	if err != nil {
		t.Fatalf("tileOverride: %v", err)
	}
	if got != (kernel.TileConfig{TileM: 16, TileN: 32, TileK: 64}) {
		t.Fatalf("tiles = %v", got)
	}
}

func TestTileOverrideRejectsOversizedTiles(t *testing.T) {
	saved := [3]int64{tileM, tileN, tileK}
	t.Cleanup(func() { tileM, tileN, tileK = saved[0], saved[1], saved[2] })

	tileM, tileN, tileK = 0, 0, 0
	if cfg, err := tileOverride(); err != nil || !cfg.IsZero() {
		t.Fatalf("zero override: %v %v", cfg, err)
	}
	tileM, tileN, tileK = 64, 1024, 64
	if _, err := tileOverride(); err == nil {
		t.Fatal("expected error for tile_n above the maximum")
	}
}
