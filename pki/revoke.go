package pki

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/internal/metrics"
	"github.com/vpnforge/vpnforge/internal/util"
)

// RevokeClient revokes name's certificate, regenerates the revocation
// list, and removes the client's materialized artifacts. It returns the
// path of the published CRL. The name stays retired afterwards; issuing
// it again fails with ErrIdentifierUsed.
func (m *Manager) RevokeClient(ctx context.Context, name, actor string) (crlPath string, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpRevoke, start, err) }()

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

	if !m.store.Issued(n) {
		return "", fmt.Errorf("%q: %w", n, ErrNotIssued)
	}

	if err := m.runStep(ctx, m.stepTimeout, easyrsa.CmdRevoke, n); err != nil {
		m.emit(ctx, audit.EventCertRevoked, n, actor, audit.ResultFailure, errDetail(err))
		return "", err
	}
	m.emit(ctx, audit.EventCertRevoked, n, actor, audit.ResultSuccess, nil)

	crlPath, err = m.refreshCRLLocked(ctx, actor)
	if err != nil {
		return "", err
	}

	if err := m.removeMaterialized(n+".crt", n+".key", n+".ovpn"); err != nil {
		return "", err
	}
	return crlPath, nil
}

// RefreshCRL regenerates and publishes the certificate revocation list
// without revoking anything. The VPN server reads the published copy, so
// operators run this on a timer to keep the list inside its validity
// window.
func (m *Manager) RefreshCRL(ctx context.Context, actor string) (crlPath string, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpRefreshCRL, start, err) }()

	release, err := m.acquireGate(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	return m.refreshCRLLocked(ctx, actor)
}

// refreshCRLLocked runs gen-crl and publishes the result. The caller holds
// the store gate.
func (m *Manager) refreshCRLLocked(ctx context.Context, actor string) (string, error) {
	if err := m.runStep(ctx, m.stepTimeout, easyrsa.CmdGenCRL); err != nil {
		m.emit(ctx, audit.EventCRLGenerated, "crl", actor, audit.ResultFailure, errDetail(err))
		return "", err
	}
	if !util.FileExists(m.store.CRL()) {
		err := fmt.Errorf("%s reported success but %s is missing", easyrsa.CmdGenCRL, m.store.CRL())
		m.emit(ctx, audit.EventCRLGenerated, "crl", actor, audit.ResultFailure, errDetail(err))
		return "", err
	}
	m.emit(ctx, audit.EventCRLGenerated, "crl", actor, audit.ResultSuccess, nil)

	if err := m.materialize(ctx, actor, []artifact{
		{src: m.store.CRL(), name: "crl.pem", mode: certMode},
	}); err != nil {
		return "", err
	}
	return filepath.Join(m.out, "crl.pem"), nil
}
