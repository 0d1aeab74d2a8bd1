package pki

import (
	"context"
	"fmt"
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/internal/metrics"
	"github.com/vpnforge/vpnforge/internal/util"
)

// EnsureBootstrapped drives the store to SERVER_CERT_READY, running only
// the steps the probe reports missing. Completed stages are never redone,
// so calling this on an already-bootstrapped store performs no toolkit
// work, and calling it after a crash resumes from the first incomplete
// stage. The server artifacts are re-materialized into the output
// directory on every successful pass.
func (m *Manager) EnsureBootstrapped(ctx context.Context, actor string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpBootstrap, start, err) }()

	release, err := m.acquireGate(ctx)
	if err != nil {
		return err
	}
	defer release()

	return m.bootstrapLocked(ctx, actor)
}

// bootstrapLocked runs the bootstrap ladder. The caller holds the store
// gate.
func (m *Manager) bootstrapLocked(ctx context.Context, actor string) error {
	if err := m.ensureInitialized(ctx, actor); err != nil {
		return err
	}
	if err := m.ensureCA(ctx, actor); err != nil {
		return err
	}
	if err := m.ensureDH(ctx, actor); err != nil {
		return err
	}
	if err := m.ensureServerCert(ctx, actor); err != nil {
		return err
	}
	return m.materializeServer(ctx, actor)
}

// ensureInitialized guarantees a usable pki/ skeleton. A store directory
// that lost its toolkit configuration is wiped and rebuilt, but only while
// no CA exists: once ca.crt is present the directory holds irreplaceable
// key material and repair requires an operator decision.
func (m *Manager) ensureInitialized(ctx context.Context, actor string) error {
	if m.store.NeedsRepair() {
		if m.store.HasCACert() {
			return fmt.Errorf("store %s lost its toolkit configuration but still holds a certificate authority: %w", m.store.Dir(), ErrCARepairNeeded)
		}
		if err := m.store.Wipe(); err != nil {
			return fmt.Errorf("wiping damaged store: %w", err)
		}
	}

	if m.store.Probe(m.serverName) >= StatePKIInitialized {
		return nil
	}

	if err := m.runStep(ctx, m.stepTimeout, easyrsa.CmdInitPKI); err != nil {
		m.emit(ctx, audit.EventPKIInit, "", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	if !util.FileExists(m.store.ConfigFile()) {
		err := fmt.Errorf("%s reported success but %s is missing", easyrsa.CmdInitPKI, m.store.ConfigFile())
		m.emit(ctx, audit.EventPKIInit, "", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	m.emit(ctx, audit.EventPKIInit, "", actor, audit.ResultSuccess, map[string]string{"store": m.store.Dir()})
	return nil
}

// ensureCA guarantees the authority keypair exists.
func (m *Manager) ensureCA(ctx context.Context, actor string) error {
	if m.store.HasCACert() {
		return nil
	}

	if err := m.runStep(ctx, m.stepTimeout, easyrsa.CmdBuildCA, easyrsa.NoPass); err != nil {
		m.emit(ctx, audit.EventCACreated, "ca", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	if !m.store.HasCACert() {
		err := fmt.Errorf("%s reported success but %s is missing", easyrsa.CmdBuildCA, m.store.CACert())
		m.emit(ctx, audit.EventCACreated, "ca", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	m.emit(ctx, audit.EventCACreated, "ca", actor, audit.ResultSuccess, nil)
	return nil
}

// ensureDH guarantees the Diffie-Hellman parameter file exists. Generation
// is CPU-bound and can run for minutes on small machines, so it gets its
// own timeout and an attempt event before the step starts.
func (m *Manager) ensureDH(ctx context.Context, actor string) error {
	if util.FileExists(m.store.DHParams()) {
		return nil
	}

	m.emit(ctx, audit.EventDHGenerated, "dh", actor, audit.ResultAttempt, nil)
	if err := m.runStep(ctx, m.dhTimeout, easyrsa.CmdGenDH); err != nil {
		m.emit(ctx, audit.EventDHGenerated, "dh", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	if !util.FileExists(m.store.DHParams()) {
		err := fmt.Errorf("%s reported success but %s is missing", easyrsa.CmdGenDH, m.store.DHParams())
		m.emit(ctx, audit.EventDHGenerated, "dh", actor, audit.ResultFailure, errDetail(err))
		return err
	}
	m.emit(ctx, audit.EventDHGenerated, "dh", actor, audit.ResultSuccess, nil)
	return nil
}

// ensureServerCert guarantees the server certificate is issued. A signing
// request left behind by an interrupted earlier run is signed rather than
// regenerated; regenerating would fail because the private key already
// exists.
func (m *Manager) ensureServerCert(ctx context.Context, actor string) error {
	if m.store.Issued(m.serverName) {
		return nil
	}

	var err error
	if m.store.HasRequest(m.serverName) {
		err = m.runStep(ctx, m.stepTimeout, easyrsa.CmdSignReq, "server", m.serverName)
	} else {
		err = m.runStep(ctx, m.stepTimeout, easyrsa.CmdBuildServerFull, m.serverName, easyrsa.NoPass)
	}
	if err != nil {
		m.emit(ctx, audit.EventServerCertIssued, m.serverName, actor, audit.ResultFailure, errDetail(err))
		return err
	}
	if !m.store.Issued(m.serverName) {
		err := fmt.Errorf("toolkit reported success but %s is missing", m.store.Cert(m.serverName))
		m.emit(ctx, audit.EventServerCertIssued, m.serverName, actor, audit.ResultFailure, errDetail(err))
		return err
	}
	m.emit(ctx, audit.EventServerCertIssued, m.serverName, actor, audit.ResultSuccess, nil)
	return nil
}

// materializeServer copies the server-side artifact set into the output
// directory.
func (m *Manager) materializeServer(ctx context.Context, actor string) error {
	return m.materialize(ctx, actor, []artifact{
		{src: m.store.CACert(), name: "ca.crt", mode: certMode},
		{src: m.store.Cert(m.serverName), name: m.serverName + ".crt", mode: certMode},
		{src: m.store.Key(m.serverName), name: m.serverName + ".key", mode: keyMode},
		{src: m.store.DHParams(), name: "dh.pem", mode: certMode},
	})
}
