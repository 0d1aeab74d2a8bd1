package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/pki"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage client certificates and profiles",
}

var clientAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Issue a client certificate and render its .ovpn profile",
	Args:  cobra.ExactArgs(1),
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

		profile, err := mgr.IssueClient(cmd.Context(), args[0], localActor())
		var matErr *pki.MaterializeError
		if err != nil && !errors.As(err, &matErr) {
			return err
		}
		if matErr != nil {
			for _, f := range matErr.Failed {
				fmt.Fprintf(os.Stderr, "warning: artifact %s failed: %v\n", f.Name, f.Err)
			}
		}
		fmt.Printf("Profile: %s\n", profile)
		return nil
	},
}

var clientListJSON bool

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known clients and their certificate status",
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

		if clientListJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(clients)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTATUS\tEXPIRES\tPROFILE")
		for _, c := range clients {
			expires := "-"
			if !c.ExpiresAt.IsZero() {
				expires = c.ExpiresAt.Format(time.DateOnly)
			}
			profile := c.Profile
			if profile == "" {
				profile = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Status, expires, profile)
		}
		return tw.Flush()
	},
}

var clientRevokeCmd = &cobra.Command{
	Use:   "revoke <name>",
	Short: "Revoke a client certificate and republish the CRL",
	Args:  cobra.ExactArgs(1),
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

		crl, err := mgr.RevokeClient(cmd.Context(), args[0], localActor())
		if err != nil {
			return err
		}
		fmt.Printf("Revoked %s\nCRL: %s\n", args[0], crl)
		fmt.Println("Reload the VPN server so it picks up the new revocation list.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientAddCmd)
	clientCmd.AddCommand(clientListCmd)
	clientCmd.AddCommand(clientRevokeCmd)
	clientListCmd.Flags().BoolVar(&clientListJSON, "json", false, "Output as JSON")
}
