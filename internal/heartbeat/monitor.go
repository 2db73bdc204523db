// Package heartbeat probes an open viewer connection with "ping" frames
// and forces a reconnect when the server stays silent too long.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/protocol"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second

	dropReason = "heartbeat timeout"
)

// Transport is what the monitor needs from a connection.Manager.
type Transport interface {
	Send(f connection.Frame) error
	Drop(reason string) bool
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
}

type Monitor struct {
	transport Transport
	interval  time.Duration
	timeout   time.Duration
	clock     clock.Clock
	log       *slog.Logger

	mu          sync.Mutex
	gen         uint64
	armed       bool
	lastInbound time.Time
	outstanding bool
	probeAt     time.Time
	ticker      *clock.Ticker
	deadline    *clock.Timer
	stop        chan struct{}
}

func NewMonitor(transport Transport, cfg Config, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Monitor{
		transport: transport,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		clock:     cfg.Clock,
		log:       log.With("component", "heartbeat"),
	}
}

// Arm starts probing. Arming an armed monitor restarts it; ticks from
// the previous arming are ignored.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()
	m.gen++
	m.armed = true
	m.lastInbound = m.clock.Now()
	m.outstanding = false
	m.ticker = m.clock.Ticker(m.interval)
	m.stop = make(chan struct{})

	go m.run(m.gen, m.ticker, m.stop)
}

func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
}

func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Observe records inbound traffic. Any frame counts as liveness.
func (m *Monitor) Observe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastInbound = m.clock.Now()
	m.outstanding = false
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
}

func (m *Monitor) disarmLocked() {
	if !m.armed {
		return
	}
	m.gen++
	m.armed = false
	m.outstanding = false
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	close(m.stop)
}

func (m *Monitor) run(gen uint64, ticker *clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick(gen)
		}
	}
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.armed {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if now.Sub(m.lastInbound) < m.interval || m.outstanding {
		m.mu.Unlock()
		return
	}

	m.outstanding = true
	m.probeAt = now
	m.deadline = m.clock.AfterFunc(m.timeout, func() {
		m.expire(gen)
	})
	m.mu.Unlock()

	if err := m.transport.Send(connection.TextFrame(protocol.TokenPing)); err != nil {
		m.log.Debug("ping not sent", "error", err)
	}
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.armed || !m.outstanding || m.lastInbound.After(m.probeAt) {
		m.mu.Unlock()
		return
	}
	silent := m.clock.Now().Sub(m.lastInbound)
	m.disarmLocked()
	m.mu.Unlock()

	m.log.Warn("no response to ping, forcing reconnect", "silent_for", silent)
	m.transport.Drop(dropReason)
}
