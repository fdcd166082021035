package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconfig/aft-resolver/pkg/config"
	"github.com/openconfig/aft-resolver/pkg/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "aft-resolver",
	Short: "Recursive RIB resolver with gNMI AFT telemetry",
	Long: `aft-resolver keeps the routes of several clients per prefix, picks the
best client per prefix and resolves its next-hops recursively down to
directly connected interfaces. The resolved forwarding state is published
as OpenConfig AFT next-hops, next-hop groups and prefix entries.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json), overrides the config")
}

// loadConfig loads and validates the configuration, applies the flag
// overrides and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if err := logging.SetLogFormat(cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}
