// MSME Risk - Credit risk scoring for small businesses.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/msme-risk/internal/config"
	"github.com/opensource-finance/msme-risk/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	appConfigKey = "app-config"

	configFlagName = "config"
	debugFlagName  = "debug"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:     "msmerisk",
		Version:  fmt.Sprintf("%s (%s - %s)", Version, Commit, BuildDate),
		Usage:    "Credit risk scoring for micro, small and medium enterprises",
		Metadata: map[string]any{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlagName,
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or JSON config file (optional)",
				Sources: cli.EnvVars("MSMERISK_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  debugFlagName,
				Usage: "Prints verbose logs (optional, default: false)",
			},
		},
		Commands: []*cli.Command{
			newServeCmd(),
			newAssessCmd(),
			newBatchCmd(),
			newBenchCmd(),
			newVersionCmd(),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			config.LoadDotEnv()

			cfg, err := config.Load(cmd.String(configFlagName))
			if err != nil {
				return ctx, err
			}
			if cmd.Bool(debugFlagName) {
				cfg.Logging.Level = "debug"
			}

			// Commands other than serve report on stdout; keep logs off it.
			if err := initLogging(cfg.Logging.Level, "text", errWriter(cmd)); err != nil {
				return ctx, err
			}

			cmd.Root().Metadata[appConfigKey] = cfg
			return ctx, nil
		},
	}
}

func newVersionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Prints build information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(writer(cmd), "msmerisk %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
			return err
		},
	}
}

func getConfig(cmd *cli.Command) *domain.Config {
	if cfg, ok := cmd.Root().Metadata[appConfigKey].(*domain.Config); ok {
		return cfg
	}
	return domain.DefaultConfig()
}

func initLogging(level, format string, w io.Writer) error {
	l, err := config.ParseLevel(level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: l}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
