package cmd

import (
	"fmt"
	"os"

	"backbone/config"
	"backbone/database"

	"github.com/spf13/cobra"
)

// newFingerprintCmd creates the 'fingerprint' subcommand
func newFingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint <pem-file>",
		Short: "Print the SHA-256 fingerprint of every certificate in a PEM file",
		Long: `Fingerprint the CA certificates in a PEM bundle the way bootstrap does for
database TLS and name the ones matching a known certificate. Known certificates come
from database.known_certificates when a config file is found, plus the built-in list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			known := database.BuiltinCertificates
			if cfg, err := config.LoadConfig(configFile); err == nil {
				known = database.KnownCertificates(cfg)
			} else if configFile != "" && !quiet {
				warningColor.Fprintf(cmd.ErrOrStderr(), "Config not loaded, using built-in certificates: %v\n", err)
			}

			reports, err := database.InspectPEM(data, known)
			if err != nil {
				return fmt.Errorf("failed to inspect %s: %w", args[0], err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), reports)
			}
			renderCertificates(cmd, reports)
			return nil
		},
	}

	return cmd
}

func renderCertificates(cmd *cobra.Command, reports []database.CertificateReport) {
	out := cmd.OutOrStdout()
	for _, r := range reports {
		if r.Known {
			successColor.Fprintf(out, "%s", r.Name)
			if r.Provider != "" {
				fmt.Fprintf(out, " (%s)", r.Provider)
			}
			fmt.Fprintln(out)
		} else {
			warningColor.Fprintln(out, r.Name)
		}
		fmt.Fprintf(out, "  %s\n", r.Fingerprint)
	}
}
