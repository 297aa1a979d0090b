package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a trust policy file and build it",
		Args:  cobra.NoArgs,
		RunE:  runValidateConfig,
	}
}

func runValidateConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tlsCfg, err := buildConfiguration(cmd.Context(), cmd, cfg, nil)
	if err != nil {
		return err
	}

	tlsCtx := tlsCfg.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid: %s\n", path)
	fmt.Fprintf(out, "  decider: %s\n", pkgtls.DeciderName(tlsCfg.Decider()))
	fmt.Fprintf(out, "  composition: %s\n", tlsCtx.Composition())
	fmt.Fprintf(out, "  provider: %s\n", tlsCtx.ProviderName())
	fmt.Fprintf(out, "  hostname verification: %s\n", cfg.HostnameVerification)
	fmt.Fprintf(out, "  versions: %s - %s\n", pkgtls.VersionName(tlsCtx.MinVersion()), pkgtls.VersionName(tlsCtx.MaxVersion()))
	if tlsCtx.Permissive() {
		fmt.Fprintf(out, "  warning: decider %s disables chain validation\n", pkgtls.DeciderName(tlsCfg.Decider()))
	}
	return nil
}
