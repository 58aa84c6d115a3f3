// Package cli implements the shipyard command line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/studentutu/shipyard/internal/config"
	"github.com/studentutu/shipyard/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	cfg    config.Config
)

// defaultConfigPath returns the default config file, checking the
// SHIPYARD_CONFIG env var first.
func defaultConfigPath() string {
	if p := os.Getenv("SHIPYARD_CONFIG"); p != "" {
		return p
	}
	return "shipyard.yaml"
}

// NewRootCmd creates the root cobra command for the shipyard CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shipyard",
		Short: "Shipyard — build targets and distribute their artifacts",
		Long:  "Shipyard builds a configured set of targets and hands the artifacts to a distribution strategy (archive bundle, S3 upload, or an external command).",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}

			level := flagLogLevel
			if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
				level = cfg.LogLevel
			}
			if flagDebug {
				level = "debug"
			}
			format := flagLogFormat
			if format == "" {
				format = cfg.LogFormat
			}
			if format == "" {
				format = logging.DefaultFormat()
			}
			logger = logging.NewLogger(logging.ParseLevel(level), format)

			return cfg.Validate()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "Config file (or SHIPYARD_CONFIG env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json; default picks by terminal)")

	root.AddCommand(
		newRunCmd(),
		newBuildCmd(),
		newTargetsCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)

	return root
}
