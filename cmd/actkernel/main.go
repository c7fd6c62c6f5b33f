package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/actkernel/internal/logger"
)

// fileConfig is the config file loaded by the root Before hook.
var fileConfig Config

func main() {
	app := &cli.Command{
		Name:   "actkernel",
		Usage:  "Quantized INT8 matmul kernels: correctness checks, benchmarks and an operator service",
		Flags:  append(loggingFlags(), engineFlags()...),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			checkCmd(),
			benchCmd(),
			genCmd(),
			runCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger every subcommand
// reads back with logger.FromContext.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
	}
	fileConfig = cfg
	applyGlobalConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.New(logFormat, level, os.Stderr)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}
