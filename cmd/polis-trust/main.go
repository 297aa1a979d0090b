// Package main is the entry point for the polis-trust binary.
// It exercises trust policies against certificate chains and live servers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-trust/pkg/config"
	"github.com/polisai/polis-trust/pkg/logging"
	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

const (
	version         = "0.3.0"
	defaultLogLevel = "warn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-trust
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-trust",
		Short: "Server certificate trust policies for TLS clients",
		Long: `polis-trust builds TLS client configurations from a trust policy file
and checks certificate chains and live endpoints against them.

Examples:
  polis-trust check --cert chain.pem --host api.example.com --config trust.yaml
  polis-trust probe https://api.example.com --config trust.yaml
  polis-trust generate --ca --cn "Test CA" --out-dir ./certs`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to trust policy file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")

	rootCmd.AddCommand(
		newCheckCmd(),
		newProbeCmd(),
		newInspectCmd(),
		newGenerateCmd(),
		newValidateConfigCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polis-trust version %s\n", version)
		},
	}
}

// commandLogger builds the logger from the persistent flags. Logs go to the
// command's stderr so that stdout only carries results.
func commandLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	return logging.NewLogger(logging.Config{
		Level:  level,
		Format: format,
		Output: cmd.ErrOrStderr(),
	})
}

// loadConfig reads --config, or the defaults when it is not set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Load(path)
}

// buildConfiguration turns cfg into a TLS configuration using the command's
// logger and any extra observer.
func buildConfiguration(ctx context.Context, cmd *cobra.Command, cfg *config.Config, observer pkgtls.Observer) (*pkgtls.Configuration, error) {
	logger, err := commandLogger(cmd)
	if err != nil {
		return nil, err
	}
	opts := []config.FactoryOption{config.WithFactoryLogger(logger)}
	if observer != nil {
		opts = append(opts, config.WithFactoryObserver(observer))
	}
	return config.NewFactory(opts...).Build(ctx, cfg)
}
