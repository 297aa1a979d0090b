package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

var errRejected = errors.New("certificate chain rejected")

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a PEM chain offline against the trust policy",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	cmd.Flags().String("cert", "", "PEM file with the chain, leaf first")
	cmd.Flags().String("host", "", "Host name the chain is presented for")
	_ = cmd.MarkFlagRequired("cert")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	certFile, _ := cmd.Flags().GetString("cert")
	host, _ := cmd.Flags().GetString("host")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tlsCfg, err := buildConfiguration(cmd.Context(), cmd, cfg, nil)
	if err != nil {
		return err
	}

	chain, err := pkgtls.LoadCertificatesFile(certFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, warning := range pkgtls.ChainWarnings(chain, time.Now()) {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}

	if err := tlsCfg.VerifyPeer(host, chain); err != nil {
		fmt.Fprintf(out, "REJECT %s (decider=%s)\n", host, pkgtls.DeciderName(tlsCfg.Decider()))
		var tlsErr *pkgtls.TLSError
		if errors.As(err, &tlsErr) {
			fmt.Fprintf(out, "  reason: %s\n", tlsErr.Error())
			for _, s := range tlsErr.Suggestions {
				fmt.Fprintf(out, "  hint: %s\n", s)
			}
		} else {
			fmt.Fprintf(out, "  reason: %v\n", err)
		}
		return errRejected
	}

	fmt.Fprintf(out, "ACCEPT %s (decider=%s, auth_type=%s)\n",
		host, pkgtls.DeciderName(tlsCfg.Decider()), pkgtls.AuthType(chain[0]))
	return nil
}
