package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tlsauthCmd = &cobra.Command{
	Use:   "tlsauth",
	Short: "Generate the shared tls-auth key if it does not exist",
	Long: `Writes the OpenVPN static key used for HMAC packet authentication to
ta.key in the output directory. The key is generated once; existing key
material is never overwritten. Profiles rendered afterwards embed it
automatically.`,
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

		path, err := mgr.EnsureTLSAuthKey(cmd.Context(), localActor())
		if err != nil {
			return err
		}
		fmt.Printf("tls-auth key: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tlsauthCmd)
}
