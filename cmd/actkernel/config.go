package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/actkernel/internal/kernel"
)

// Config represents the actkernel configuration file
// (~/.config/actkernel/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Engine
	Device   *int64             `yaml:"device"`
	Workers  *int64             `yaml:"workers"`
	Tiles    *kernel.TileConfig `yaml:"tiles"`
	Autotune *bool              `yaml:"autotune"`

	// Bench
	Warmup *int64 `yaml:"warmup"`
	Repeat *int64 `yaml:"repeat"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "actkernel", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig applies config file defaults to the root flags when the
// corresponding flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceIndex = *cfg.Device
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.Tiles != nil {
		if !c.IsSet("tile-m") {
			tileM = int64(cfg.Tiles.TileM)
		}
		if !c.IsSet("tile-n") {
			tileN = int64(cfg.Tiles.TileN)
		}
		if !c.IsSet("tile-k") {
			tileK = int64(cfg.Tiles.TileK)
		}
	}
	if cfg.Autotune != nil && !c.IsSet("autotune") {
		autotune = *cfg.Autotune
	}
}

// applyBenchConfig applies config file defaults to bench command variables.
func applyBenchConfig(c *cli.Command, cfg Config, warmup, repeat *int64) {
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		*warmup = *cfg.Warmup
	}
	if cfg.Repeat != nil && !c.IsSet("repeat") {
		*repeat = *cfg.Repeat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
