package main

import (
	"github.com/urfave/cli/v3"
)

var (
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool
	deviceIndex int64
	workers     int64
	tileM       int64
	tileN       int64
	tileK       int64
	autotune    bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/actkernel/config.yaml)",
			Sources:     cli.EnvVars("ACTKERNEL_CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "device index",
			Value:       0,
			Destination: &deviceIndex,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "kernel worker pool size (0 = GOMAXPROCS)",
			Sources:     cli.EnvVars("ACTKERNEL_WORKERS"),
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "tile-m",
			Usage:       "override output tile rows",
			Destination: &tileM,
		},
		&cli.Int64Flag{
			Name:        "tile-n",
			Usage:       "override output tile columns",
			Destination: &tileN,
		},
		&cli.Int64Flag{
			Name:        "tile-k",
			Usage:       "override reduction slab depth",
			Destination: &tileK,
		},
		&cli.BoolFlag{
			Name:        "autotune",
			Usage:       "measure tile configs per shape before running",
			Destination: &autotune,
		},
	}
}
