package pki

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/internal/util"
)

const (
	// keyMode protects private keys and rendered client profiles.
	keyMode = os.FileMode(0o600)
	// certMode applies to public material: certificates, DH parameters,
	// and the revocation list.
	certMode = os.FileMode(0o644)
)

// artifact is one file to copy from the store into the output directory.
type artifact struct {
	src  string
	name string
	mode os.FileMode
}

// materialize copies artifacts into the output directory, each through a
// temp file and rename so readers never observe partial content. A copy
// failure does not abort the batch; failures are collected per artifact
// and artifacts that did land stay in place.
func (m *Manager) materialize(ctx context.Context, actor string, artifacts []artifact) error {
	if err := os.MkdirAll(m.out, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", m.out, err)
	}

	var failed []ArtifactFailure
	for _, a := range artifacts {
		dst := filepath.Join(m.out, a.name)
		if err := util.CopyFileAtomic(a.src, dst, a.mode); err != nil {
			failed = append(failed, ArtifactFailure{Name: a.name, Err: err})
			m.emit(ctx, audit.EventCertCopied, a.name, actor, audit.ResultFailure, errDetail(err))
			continue
		}
		m.emit(ctx, audit.EventCertCopied, a.name, actor, audit.ResultSuccess, nil)
	}

	if len(failed) > 0 {
		return &MaterializeError{Failed: failed}
	}
	return nil
}

// removeMaterialized deletes per-client artifacts from the output
// directory, ignoring files that are already gone.
func (m *Manager) removeMaterialized(names ...string) error {
	for _, name := range names {
		p := filepath.Join(m.out, name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}
