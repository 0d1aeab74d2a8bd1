package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/audit/postgres"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/internal/config"
	"github.com/vpnforge/vpnforge/pki"
)

// loadConfig resolves the effective configuration: defaults, then the
// --config file when given, then VPNFORGE_* environment overrides.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(cfgFile)
}

// openTrail opens the configured persistent trail: postgres when a DSN is
// set, the bbolt file otherwise, nil when neither is configured.
func openTrail(ctx context.Context, cfg *config.Config) (audit.Trail, error) {
	if cfg.Audit.DSN != "" {
		return postgres.NewStoreFromDSN(ctx, cfg.Audit.DSN)
	}
	if cfg.Audit.Path != "" {
		return audit.OpenStore(cfg.Audit.Path)
	}
	return nil, nil
}

// openRecorder assembles the audit pipeline: structured log always, the
// persistent trail when it can be opened. One-shot commands tolerate an
// unavailable trail (a running server holds the bbolt lock) by degrading
// to log-only recording.
func openRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Recorder, func()) {
	logRec := audit.NewLog(logger)
	trail, err := openTrail(ctx, cfg)
	if err != nil {
		logger.Warn("audit trail unavailable, recording to log only", "error", err)
		return logRec, func() {}
	}
	if trail == nil {
		return logRec, func() {}
	}
	return audit.NewMulti(logRec, trail), func() { trail.Close() }
}

// buildManager locates (or provisions) the easy-rsa toolkit and wires the
// orchestrator over its installation directory.
func buildManager(ctx context.Context, cfg *config.Config, rec audit.Recorder) (*pki.Manager, error) {
	handle, err := easyrsa.LocateOrProvision(ctx, cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("locating easy-rsa: %w", err)
	}
	store := pki.NewStore(handle.Dir)
	return pki.New(store, cfg.Store.Output, easyrsa.NewCLI(handle),
		pki.WithRecorder(rec),
		pki.WithServerName(cfg.Store.ServerName),
		pki.WithProfileParams(cfg.Profile),
		pki.WithGateWait(cfg.Store.GateWait()),
		pki.WithStepTimeout(cfg.Store.StepTimeout()),
		pki.WithDHTimeout(cfg.Store.DHTimeout()),
	), nil
}
