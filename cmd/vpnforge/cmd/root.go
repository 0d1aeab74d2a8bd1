package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; "dev" otherwise.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vpnforge",
	Short: "vpnforge runs a certificate authority for a private OpenVPN deployment",
	Long: `vpnforge drives an easy-rsa installation to bootstrap a CA, issue and
revoke client certificates, publish the revocation list, and render
ready-to-import .ovpn connection profiles.
Complete documentation is available at https://github.com/vpnforge/vpnforge`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML config file")
}
