package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Signal reports whether the authoritative backend can be reached right now.
type Signal interface {
	Reachable(ctx context.Context) bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes a Pinger on an interval and keeps the last observed state.
// Callbacks registered with OnReconnect run on every offline to online edge.
type Monitor struct {
	pinger       Pinger
	interval     time.Duration
	probeTimeout time.Duration
	log          zerolog.Logger

	online atomic.Bool

	mu          sync.Mutex
	onReconnect []func(ctx context.Context)
}

func NewMonitor(pinger Pinger, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{pinger: pinger, interval: interval, probeTimeout: timeout, log: log}
}

func (m *Monitor) Reachable(_ context.Context) bool {
	return m.online.Load()
}

func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Probe pings once, records the result and fires reconnect callbacks when the
// state flips to online. It returns the new state.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.pinger.Ping(probeCtx)
	cancel()

	online := err == nil
	was := m.online.Swap(online)
	switch {
	case online && !was:
		m.log.Info().Msg("authoritative backend reachable")
		m.mu.Lock()
		callbacks := append([]func(context.Context){}, m.onReconnect...)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn(ctx)
		}
	case !online && was:
		m.log.Warn().Err(err).Msg("authoritative backend unreachable")
	}
	return online
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Static is a fixed signal that tests can flip.
type Static struct {
	online atomic.Bool
}

func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

func (s *Static) Reachable(_ context.Context) bool {
	return s.online.Load()
}

func (s *Static) Set(online bool) {
	s.online.Store(online)
}
