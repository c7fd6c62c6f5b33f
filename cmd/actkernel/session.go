package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/logger"
)

// session is the device, stream and engine a command dispatches onto.
type session struct {
	dev    *device.Device
	stream *device.Stream
	engine *kernel.Engine
}

func tileOverride() (kernel.TileConfig, error) {
	cfg := kernel.TileConfig{TileM: int(tileM), TileN: int(tileN), TileK: int(tileK)}
	if cfg.IsZero() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return kernel.TileConfig{}, fmt.Errorf("tile override: %w", err)
	}
	return cfg, nil
}

func openSession(ctx context.Context) (*session, error) {
	log := logger.FromContext(ctx)

	tiles, err := tileOverride()
	if err != nil {
		return nil, err
	}
	dev, err := device.Open(int(deviceIndex), log)
	if err != nil {
		return nil, err
	}
	var tuner *kernel.Autotuner
	if autotune {
		tuner = kernel.NewAutotuner()
	}
	engine := kernel.NewEngine(kernel.Options{
		Workers: int(workers),
		Tiles:   tiles,
		Logger:  log,
		Tuner:   tuner,
	})
	log.Debug("session ready", "device", dev.Info().String(), "workers", engine.Workers(), "tiles", tiles.String())
	return &session{dev: dev, stream: dev.NewStream(), engine: engine}, nil
}

// Close drains the stream before stopping the pool.
func (s *session) Close() {
	_ = s.stream.Close()
	s.engine.Close()
}
