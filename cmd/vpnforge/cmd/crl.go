package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Manage the certificate revocation list",
}

var crlRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Regenerate the CRL and publish it to the output directory",
	Long: `Regenerates the revocation list from the CA index and copies it to the
output directory. Run this periodically: a published CRL carries its own
expiry, and the VPN server rejects all clients once it lapses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := cfg.Logging.NewLogger()
		rec, closeRec := openRecorder(cmd.Context(), cfg, logger)
		defer closeRec()

		mgr, err := buildManager(cmd.Context(), cfg, rec)
		if err != nil {
			return err
		}

		crl, err := mgr.RefreshCRL(cmd.Context(), localActor())
		if err != nil {
			return err
		}
		fmt.Printf("CRL: %s\n", crl)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crlCmd)
	crlCmd.AddCommand(crlRefreshCmd)
}
