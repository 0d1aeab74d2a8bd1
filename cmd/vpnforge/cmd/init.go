package cmd

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"
)

var initTLSAuth bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the certificate authority and server identity",
	Long: `Runs every missing bootstrap step in order: PKI skeleton, CA key pair,
Diffie-Hellman parameters, and the server certificate. Artifacts the VPN
server needs are copied into the output directory. Safe to repeat; a
fully bootstrapped store is a no-op.

DH parameter generation is CPU bound and can take several minutes on
first run.`,
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

		fmt.Printf("Bootstrapping PKI store at %s (state: %s)...\n",
			mgr.Store().Root(), mgr.Status())
		if err := mgr.EnsureBootstrapped(cmd.Context(), localActor()); err != nil {
			return err
		}
		if initTLSAuth {
			path, err := mgr.EnsureTLSAuthKey(cmd.Context(), localActor())
			if err != nil {
				return err
			}
			fmt.Printf("tls-auth key: %s\n", path)
		}
		fmt.Printf("Store is %s; server artifacts in %s\n", mgr.Status(), mgr.OutputDir())
		return nil
	},
}

// localActor names the invoking OS user on audit events, falling back to
// "cli" when the lookup fails.
func localActor() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "cli"
	}
	return u.Username
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initTLSAuth, "tls-auth", false, "Also generate the shared tls-auth key")
}
