package pki

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/internal/metrics"
	"github.com/vpnforge/vpnforge/internal/util"
)

// TLSAuthFile is the shared HMAC firewall key's file name within the
// output directory.
const TLSAuthFile = "ta.key"

// staticKeySize is the OpenVPN static key length in bytes: 2048 bits.
const staticKeySize = 256

// EnsureTLSAuthKey generates the shared tls-auth key once and returns its
// path. The key is orchestrator-owned; the external toolkit never sees it.
// An existing key is never regenerated, since replacing it would cut off
// every client holding the old copy.
func (m *Manager) EnsureTLSAuthKey(ctx context.Context, actor string) (path string, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpTLSAuth, start, err) }()

	path = filepath.Join(m.out, TLSAuthFile)
	if util.FileExists(path) {
		return path, nil
	}

	release, err := m.acquireGate(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	// Re-check under the gate; a concurrent caller may have won the race.
	if util.FileExists(path) {
		return path, nil
	}

	if err := os.MkdirAll(m.out, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", m.out, err)
	}

	key := memguard.NewBufferRandom(staticKeySize)
	defer key.Destroy()

	if err := util.WriteFileAtomic(path, formatStaticKey(key.Bytes()), keyMode); err != nil {
		m.emit(ctx, audit.EventTLSAuthGenerated, TLSAuthFile, actor, audit.ResultFailure, errDetail(err))
		return "", fmt.Errorf("writing tls-auth key: %w", err)
	}
	m.emit(ctx, audit.EventTLSAuthGenerated, TLSAuthFile, actor, audit.ResultSuccess, nil)
	return path, nil
}

// formatStaticKey renders key material in OpenVPN's static key V1 file
// format: hex encoded, sixteen bytes per line, between marker lines.
func formatStaticKey(key []byte) []byte {
	var b strings.Builder
	b.WriteString("#\n# 2048 bit OpenVPN static key\n#\n")
	b.WriteString("-----BEGIN OpenVPN Static key V1-----\n")
	for i := 0; i < len(key); i += 16 {
		b.WriteString(hex.EncodeToString(key[i : i+16]))
		b.WriteByte('\n')
	}
	b.WriteString("-----END OpenVPN Static key V1-----\n")
	return []byte(b.String())
}
