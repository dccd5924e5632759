// Package cmd implements the forkscan command line interface.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/forkscan/pkg/config"
	"github.com/forkscan/pkg/telemetry"
	"github.com/forkscan/pkg/utils"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger utils.Logger

	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forkscan",
	Short: "A fork-based conservative memory reclamation engine",
	Long: `forkscan batches pointers retired by application threads, quiesces the
mutators, forks a copy-on-write snapshot of the process and decides in the
child which candidates are still referenced from any stack or heap block.
Candidates proven unreferenced are freed; the rest are retried on the next
cycle.

This CLI runs the built-in stress workload against the engine and inspects
the persisted cycle history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			logger, err = utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
		} else {
			logger = utils.NewTextLogger(logLevel, os.Stdout)
		}
		utils.SetDefault(logger)

		telemetryShutdown, err = telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("failed to initialize telemetry: %v", err)
			telemetryShutdown = nil
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown != nil {
			return telemetryShutdown(context.Background())
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
