// Package easyrsa locates and drives an easy-rsa installation. The adapter
// exposes the toolkit's subcommands as typed invocations; it knows nothing
// about bootstrap ordering or idempotence, which belong to the pki package.
// Success or failure of a subcommand is judged by exit code and by the files
// it leaves behind, never by parsing its output.
package easyrsa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Subcommands invoked on the easy-rsa entry point.
const (
	CmdInitPKI         = "init-pki"
	CmdBuildCA         = "build-ca"
	CmdGenDH           = "gen-dh"
	CmdBuildServerFull = "build-server-full"
	CmdSignReq         = "sign-req"
	CmdBuildClientFull = "build-client-full"
	CmdRevoke          = "revoke"
	CmdGenCRL          = "gen-crl"
)

// NoPass is the easy-rsa argument requesting an unencrypted private key.
const NoPass = "nopass"

var (
	// ErrUnavailable is returned when no easy-rsa installation can be
	// located and provisioning a pinned release also failed.
	ErrUnavailable = errors.New("easy-rsa toolkit unavailable")
)

// Handle identifies a usable easy-rsa installation.
type Handle struct {
	// Dir is the installation root. Subcommands run with this directory as
	// their working directory, so the PKI store lives at Dir/pki.
	Dir string
	// Bin is the absolute path of the easyrsa entry point inside Dir.
	Bin string
}

// Result captures the outcome of a single toolkit invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CLI runs easy-rsa subcommands as child processes of this one.
type CLI struct {
	handle Handle
	// env entries appended to the inherited environment on every run.
	env []string
}

// NewCLI returns a runner for the given installation. Batch mode is forced
// on every invocation so the toolkit never blocks on an interactive prompt.
func NewCLI(handle Handle) *CLI {
	return &CLI{
		handle: handle,
		env:    []string{"EASYRSA_BATCH=1"},
	}
}

// Handle returns the installation this runner drives.
func (c *CLI) Handle() Handle {
	return c.handle
}

// Run executes one subcommand and waits for it to finish. The returned
// Result is valid whenever err is nil, including for non-zero exits; callers
// decide what a non-zero exit means for the step they are driving. An error
// is returned only when the process could not be started or was cut short
// by the context.
func (c *CLI) Run(ctx context.Context, subcommand string, args ...string) (Result, error) {
	argv := append([]string{"--batch", subcommand}, args...)
	cmd := exec.CommandContext(ctx, c.handle.Bin, argv...)
	cmd.Dir = c.handle.Dir
	cmd.Env = append(os.Environ(), c.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The subcommand ran and exited non-zero; that is a result,
			// not a transport failure.
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("easy-rsa %s: %w", subcommand, ctxErr)
		}
		return res, fmt.Errorf("running easy-rsa %s: %w", subcommand, err)
	}
	return res, nil
}
