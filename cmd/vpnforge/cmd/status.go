package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/internal/util"
	"github.com/vpnforge/vpnforge/pki"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the bootstrap state of the PKI store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mgr, err := buildManager(cmd.Context(), cfg, audit.Nop{})
		if err != nil {
			return err
		}

		clients, err := mgr.ListClients(cmd.Context())
		if err != nil {
			return err
		}
		active, revoked := 0, 0
		for _, c := range clients {
			if c.Status == pki.ClientRevoked {
				revoked++
			} else {
				active++
			}
		}

		fmt.Printf("Store:     %s\n", mgr.Store().Root())
		fmt.Printf("Output:    %s\n", mgr.OutputDir())
		fmt.Printf("State:     %s\n", mgr.Status())
		fmt.Printf("Server:    %s\n", mgr.ServerName())
		fmt.Printf("Clients:   %d active, %d revoked\n", active, revoked)
		fmt.Printf("tls-auth:  %v\n", util.FileExists(filepath.Join(mgr.OutputDir(), pki.TLSAuthFile)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
