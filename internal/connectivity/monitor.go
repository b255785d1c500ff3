// Package connectivity tracks whether the remote store is reachable and
// notifies listeners when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tiendapos/backend/internal/metrics"
)

type Prober interface {
	Ping(ctx context.Context) error
}

// Listener is called on every change of the online flag, in the goroutine
// that changed it.
type Listener func(ctx context.Context, online bool)

type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners []Listener
	logger    *slog.Logger
}

func NewMonitor(online bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Online.Set(boolGauge(online))
	return &Monitor{online: online, logger: logger.With("component", "connectivity")}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Subscribe(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Set records the current state. Listeners run only when the state flips.
func (m *Monitor) Set(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	metrics.Online.Set(boolGauge(online))
	m.logger.Info("connectivity changed", "online", online)
	for _, listener := range listeners {
		listener(ctx, online)
	}
}

// Run probes the remote store every interval and updates the state until ctx
// is done.
func (m *Monitor) Run(ctx context.Context, prober Prober, interval time.Duration, timeout time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.probe(ctx, prober, timeout)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context, prober Prober, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := prober.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil && m.Online() {
		m.logger.Warn("remote store unreachable", "error", err)
	}
	m.Set(ctx, err == nil)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
