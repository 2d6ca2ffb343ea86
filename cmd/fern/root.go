package main

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
)

// runtime is shared by every subcommand once the root pre-run has loaded it.
type runtime struct {
	cfg    config.Config
	logger ectologger.Logger
	zap    *zap.Logger
}

func rootCommand() *cobra.Command {
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:          "fern",
		Short:        "Facility list matching service",
		SilenceUsage: true,
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rt.cfg = cfg

		zl, err := newZapLogger(cfg)
		if err != nil {
			return err
		}
		rt.zap = zl
		rt.logger = zapadapter.NewZapEctoLogger(zl, nil)
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if rt.zap != nil {
			_ = rt.zap.Sync()
		}
	}

	rootCmd.AddCommand(
		serveCommand(rt),
		trainCommand(rt),
		thresholdCommand(rt),
		migrateCommand(rt),
	)

	return rootCmd
}

func newZapLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zl, err := zc.Build(zap.Fields(
		zap.String("app", cfg.AppName),
		zap.String("version", cfg.CodeVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zl, nil
}
