package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evguard/internal/config"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "evguard",
		Short:         "Intrusion detection for EV charging infrastructure",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "evguard.yaml", "Path to the YAML or JSON config file")

	rootCmd.AddCommand(newRunCommand(&configPath))
	rootCmd.AddCommand(newValidateCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start ingress, detectors and the alert sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config.ResolvePath(*configPath))
		},
	}
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*configPath))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: window=%s threshold=%d scope=%s max_allowed=%g slope_threshold=%g\n",
				cfg.Detection.Correlation.WindowDuration,
				cfg.Detection.Correlation.CountThreshold,
				cfg.Detection.Correlation.Scope,
				cfg.Detection.Signal.MaxAllowed,
				cfg.Detection.Signal.SlopeThreshold,
			)
			return nil
		},
	}
}
