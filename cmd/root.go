// Package cmd holds the qbank command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/qbank/config"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/spf13/cobra"
)

var cfgPath string

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "qbank",
		Short:         "Build exam question banks from course material",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	root.AddCommand(
		serveCMD(),
		migrateCMD(),
		workerCMD(),
		ingestCMD(),
		generateCMD(),
		retrieveCMD(),
		tokenCMD(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// bootstrap loads the config and builds the logger every command shares.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.General.LogLevel
	if cfg.General.Debug {
		level = "debug"
	}
	lg, err := logger.New(cfg.General.LogMode, level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, lg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
