package pki

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/internal/util"
)

// CertStatus classifies a certificate file.
type CertStatus string

const (
	CertValid       CertStatus = "valid"
	CertExpired     CertStatus = "expired"
	CertNotYetValid CertStatus = "not_yet_valid"
	CertMalformed   CertStatus = "malformed"
)

// CheckCertificate classifies the certificate at path against the current
// time: inside its validity window, past it, or not yet inside it. The
// parsed certificate accompanies every parseable result so callers can
// report subject and expiry; a malformed file yields a nil certificate.
// The error is non-nil only when the file cannot be read at all.
func (m *Manager) CheckCertificate(ctx context.Context, path, actor string) (CertStatus, *x509.Certificate, error) {
	status, cert, err := classifyCertificate(path)
	if err != nil {
		m.emit(ctx, audit.EventCertChecked, filepath.Base(path), actor, audit.ResultFailure, errDetail(err))
		return "", nil, err
	}
	m.emit(ctx, audit.EventCertChecked, filepath.Base(path), actor, audit.ResultSuccess, map[string]string{
		"path":   path,
		"status": string(status),
	})
	return status, cert, nil
}

func classifyCertificate(path string) (CertStatus, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading certificate: %w", err)
	}
	cert, err := parseFirstCertificate(data)
	if err != nil {
		return CertMalformed, nil, nil
	}
	now := time.Now()
	if now.After(cert.NotAfter) {
		return CertExpired, cert, nil
	}
	if now.Before(cert.NotBefore) {
		return CertNotYetValid, cert, nil
	}
	return CertValid, cert, nil
}

// parseFirstCertificate decodes PEM blocks until it finds a certificate,
// skipping any other block types in the file.
func parseFirstCertificate(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no certificate block found")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		return x509.ParseCertificate(block.Bytes)
	}
}

// ClientStatus is the lifecycle position of a client identity.
type ClientStatus string

const (
	ClientActive  ClientStatus = "active"
	ClientExpired ClientStatus = "expired"
	ClientRevoked ClientStatus = "revoked"
)

// ClientInfo summarizes one client identity from the certificate database.
type ClientInfo struct {
	Name      string       `json:"name"`
	Status    ClientStatus `json:"status"`
	Serial    string       `json:"serial,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitzero"`
	ExpiresAt time.Time    `json:"expires_at,omitzero"`
	// Profile is the rendered .ovpn path, when one exists.
	Profile string `json:"profile,omitempty"`
}

// ListClients reports every client identity the certificate database has
// seen, sorted by name. Revoked clients appear with their revoked status
// even though the toolkit moves their issued files aside. The server
// identity is excluded.
func (m *Manager) ListClients(ctx context.Context) ([]ClientInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := m.store.ReadIndex()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	byName := make(map[string]ClientInfo)
	for _, e := range entries {
		if e.Name == "" || strings.EqualFold(e.Name, m.serverName) {
			continue
		}
		info := ClientInfo{Name: e.Name, Serial: e.Serial, ExpiresAt: e.Expires}
		switch {
		case e.Status == 'R':
			info.Status = ClientRevoked
		case e.Status == 'E' || (!e.Expires.IsZero() && now.After(e.Expires)):
			info.Status = ClientExpired
		default:
			info.Status = ClientActive
		}
		// A live row wins over older rows for the same subject.
		if prev, ok := byName[e.Name]; ok && prev.Status != ClientRevoked {
			continue
		}
		byName[e.Name] = info
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	clients := make([]ClientInfo, 0, len(names))
	for _, n := range names {
		info := byName[n]
		if cert := m.readIssuedCert(n); cert != nil {
			info.CreatedAt = cert.NotBefore
			info.ExpiresAt = cert.NotAfter
		}
		if p := filepath.Join(m.out, n+".ovpn"); util.FileExists(p) {
			info.Profile = p
		}
		clients = append(clients, info)
	}
	return clients, nil
}

// readIssuedCert parses the issued certificate for name, or nil when the
// file is absent or unreadable.
func (m *Manager) readIssuedCert(name string) *x509.Certificate {
	p := m.store.Cert(name)
	if !util.FileExists(p) {
		return nil
	}
	status, cert, err := classifyCertificate(p)
	if err != nil || status == CertMalformed {
		return nil
	}
	return cert
}
