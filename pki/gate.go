package pki

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vpnforge/vpnforge/internal/metrics"
)

// gates holds one admission slot per store path, so two managers over the
// same store in one process still serialize against each other.
var gates sync.Map // absolute store root → chan struct{} (capacity 1)

func gateFor(root string) chan struct{} {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	if v, ok := gates.Load(abs); ok {
		return v.(chan struct{})
	}
	v, _ := gates.LoadOrStore(abs, make(chan struct{}, 1))
	return v.(chan struct{})
}

// acquireGate admits at most one mutating operation per store. It waits up
// to the configured bound, then rejects with ErrBusy so callers queued
// behind a long step fail fast instead of piling up.
func (m *Manager) acquireGate(ctx context.Context) (release func(), err error) {
	g := gateFor(m.store.Root())
	start := time.Now()
	timer := time.NewTimer(m.gateWait)
	defer timer.Stop()

	select {
	case g <- struct{}{}:
		metrics.RecordGateWait(time.Since(start))
		return func() { <-g }, nil
	case <-timer.C:
		metrics.GateRejectedTotal.Inc()
		return nil, fmt.Errorf("store busy after waiting %s: %w", m.gateWait, ErrBusy)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
