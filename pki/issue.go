package pki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/internal/metrics"
)

// IssueClient issues a client certificate under name and renders its
// connection profile, returning the profile path. The operation is
// idempotent: a name that already holds a live certificate skips the
// toolkit entirely and only re-materializes artifacts and re-renders the
// profile from the store.
//
// A revoked name is retired for good and fails with ErrIdentifierUsed.
// When some artifacts fail to copy out, the profile path is returned
// together with a MaterializeError; everything that did land is valid.
func (m *Manager) IssueClient(ctx context.Context, name, actor string) (profilePath string, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpIssue, start, err) }()

	n, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(n, m.serverName) {
		return "", fmt.Errorf("%q is the server identity: %w", name, ErrInvalidIdentifier)
	}

	release, err := m.acquireGate(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	// Issuance needs a signing-ready authority. Converge in place rather
	// than pushing a bootstrap call back on the operator.
	if m.store.Probe(m.serverName) != StateServerCertReady {
		if err := m.bootstrapLocked(ctx, actor); err != nil {
			return "", fmt.Errorf("bootstrapping before issuance: %w", err)
		}
	}

	if !m.store.Issued(n) {
		revoked, err := m.store.Revoked(n)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", fmt.Errorf("%q: %w", n, ErrIdentifierUsed)
		}

		if err := m.runStep(ctx, m.stepTimeout, easyrsa.CmdBuildClientFull, n, easyrsa.NoPass); err != nil {
			m.emit(ctx, audit.EventClientCertIssued, n, actor, audit.ResultFailure, errDetail(err))
			return "", err
		}
		if !m.store.Issued(n) {
			err := fmt.Errorf("toolkit reported success but %s is missing", m.store.Cert(n))
			m.emit(ctx, audit.EventClientCertIssued, n, actor, audit.ResultFailure, errDetail(err))
			return "", err
		}
		m.emit(ctx, audit.EventClientCertIssued, n, actor, audit.ResultSuccess, nil)
	}

	matErr := m.materialize(ctx, actor, []artifact{
		{src: m.store.CACert(), name: "ca.crt", mode: certMode},
		{src: m.store.Cert(n), name: n + ".crt", mode: certMode},
		{src: m.store.Key(n), name: n + ".key", mode: keyMode},
	})

	// The profile reads from the store, not the output directory, so it
	// renders even when a copy above failed.
	profilePath, renderErr := m.renderProfile(ctx, n)
	if renderErr != nil {
		return "", renderErr
	}
	return profilePath, matErr
}
