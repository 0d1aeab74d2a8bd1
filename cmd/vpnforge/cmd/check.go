package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpnforge/vpnforge/pki"
)

type checkOutput struct {
	File      string    `json:"file"`
	Status    string    `json:"status"`
	Subject   string    `json:"subject,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	NotBefore time.Time `json:"not_before,omitzero"`
	NotAfter  time.Time `json:"not_after,omitzero"`
}

var checkJSONOutput bool

var checkCmd = &cobra.Command{
	Use:   "check <certificate-file>",
	Short: "Classify a certificate file as valid, expired, or malformed",
	Long: `Reads a PEM certificate file and reports whether it is currently valid,
past its expiry, or not parseable. Exits non-zero unless the certificate
is valid, so the command can gate cron jobs and health checks.`,
	Args: cobra.ExactArgs(1),
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

		status, cert, err := mgr.CheckCertificate(cmd.Context(), args[0], localActor())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot read certificate: %v\n", err)
			os.Exit(2)
		}

		out := checkOutput{File: args[0], Status: string(status)}
		if cert != nil {
			out.Subject = cert.Subject.String()
			out.Serial = fmt.Sprintf("%X", cert.SerialNumber)
			out.NotBefore = cert.NotBefore
			out.NotAfter = cert.NotAfter
		}

		if checkJSONOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
		} else {
			fmt.Printf("File:    %s\n", out.File)
			fmt.Printf("Status:  %s\n", out.Status)
			if cert != nil {
				fmt.Printf("Subject: %s\n", out.Subject)
				fmt.Printf("Serial:  %s\n", out.Serial)
				fmt.Printf("Window:  %s to %s\n",
					out.NotBefore.Format(time.RFC3339), out.NotAfter.Format(time.RFC3339))
			}
		}

		if status != pki.CertValid {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false, "Output as JSON")
}
