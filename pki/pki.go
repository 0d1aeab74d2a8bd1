// Package pki orchestrates the certificate lifecycle of a small OpenVPN
// deployment: it bootstraps the authority through the external easy-rsa
// toolkit, issues and revokes per-device client certificates, and
// materializes the results into a permission-hardened public directory.
//
// The filesystem is the only durable state. Every operation starts from a
// fresh probe of the store and derives what to do from file presence, so
// the orchestrator survives process restarts and out-of-band operator
// changes without any reconciliation logic. Mutating operations serialize
// per store through an admission gate; the toolkit's serial counter and
// lock files are not safe under concurrent invocation.
package pki

import (
	"context"
	"fmt"
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/internal/metrics"
)

// Toolkit runs easy-rsa subcommands. *easyrsa.CLI satisfies it; tests
// substitute scripted implementations that simulate file effects.
type Toolkit interface {
	Run(ctx context.Context, subcommand string, args ...string) (easyrsa.Result, error)
}

// DefaultServerName identifies the VPN server certificate within the store.
const DefaultServerName = "server"

const (
	defaultGateWait    = 5 * time.Second
	defaultStepTimeout = 2 * time.Minute
	defaultDHTimeout   = 30 * time.Minute
)

// Manager drives the toolkit against one store and one output directory.
type Manager struct {
	store   *Store
	out     string
	toolkit Toolkit

	rec         audit.Recorder
	serverName  string
	profile     ProfileParams
	gateWait    time.Duration
	stepTimeout time.Duration
	dhTimeout   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the lifecycle event sink. Events are discarded when no
// recorder is configured.
func WithRecorder(rec audit.Recorder) Option {
	return func(m *Manager) { m.rec = rec }
}

// WithServerName overrides the server certificate identity.
func WithServerName(name string) Option {
	return func(m *Manager) { m.serverName = name }
}

// WithProfileParams sets the connection directives rendered into client
// profiles.
func WithProfileParams(p ProfileParams) Option {
	return func(m *Manager) { m.profile = p }
}

// WithGateWait bounds how long an operation waits to enter the store gate
// before failing with ErrBusy.
func WithGateWait(d time.Duration) Option {
	return func(m *Manager) { m.gateWait = d }
}

// WithStepTimeout bounds ordinary toolkit steps.
func WithStepTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stepTimeout = d }
}

// WithDHTimeout bounds DH parameter generation, which can legitimately run
// for minutes.
func WithDHTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dhTimeout = d }
}

// New returns a Manager over the given store, public output directory, and
// toolkit runner.
func New(store *Store, outDir string, toolkit Toolkit, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		out:         outDir,
		toolkit:     toolkit,
		rec:         audit.Nop{},
		serverName:  DefaultServerName,
		profile:     DefaultProfileParams(),
		gateWait:    defaultGateWait,
		stepTimeout: defaultStepTimeout,
		dhTimeout:   defaultDHTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OutputDir returns the public materialized directory.
func (m *Manager) OutputDir() string { return m.out }

// ServerName returns the server certificate identity.
func (m *Manager) ServerName() string { return m.serverName }

// Store returns the store description this manager operates on.
func (m *Manager) Store() *Store { return m.store }

// Status reports the bootstrap state from a fresh probe.
func (m *Manager) Status() State { return m.store.Probe(m.serverName) }

// emit records one lifecycle event. Sink failures never abort the PKI
// operation that produced the event.
func (m *Manager) emit(ctx context.Context, typ audit.EventType, entity, actor string, result audit.Result, detail map[string]string) {
	_ = m.rec.Record(ctx, audit.NewEvent(ctx, typ, entity, actor, result, detail))
}

func errDetail(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// runStep executes one toolkit subcommand under its timeout. A non-zero
// exit becomes a StepError carrying the captured stderr; stdout and stderr
// are never parsed for control flow.
func (m *Manager) runStep(ctx context.Context, timeout time.Duration, subcommand string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := m.toolkit.Run(ctx, subcommand, args...)
	if err != nil {
		metrics.RecordToolkitRun(subcommand, metrics.OutcomeError)
		return fmt.Errorf("running %s: %w", subcommand, err)
	}
	if res.ExitCode != 0 {
		metrics.RecordToolkitRun(subcommand, metrics.OutcomeFailed)
		return &StepError{Step: subcommand, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	metrics.RecordToolkitRun(subcommand, metrics.OutcomeOK)
	return nil
}
