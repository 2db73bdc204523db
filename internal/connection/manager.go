// Package connection owns a single caption websocket: its lifecycle
// state, reconnect scheduling and the ordered stream of lifecycle events.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/reconnect"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second

	closeReasonClient = "client closed"
)

type Config struct {
	Dialer       Dialer
	Policy       reconnect.Policy
	Clock        clock.Clock
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Manager is the only place connection state changes. Every socket and
// every reconnect timer is tagged with the epoch that created it; work
// carrying an older epoch is discarded.
type Manager struct {
	dialer       Dialer
	policy       reconnect.Policy
	clock        clock.Clock
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger

	mu       sync.Mutex
	state    State
	epoch    uint64
	url      string
	sock     Socket
	attempts int

	timer    *clock.Timer
	pending  bool
	timerSeq uint64

	writeMu sync.Mutex

	queue  *eventQueue
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Policy == nil {
		cfg.Policy = reconnect.FromConfig(shared.BackoffConfig{}, shared.RoleViewer)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:       cfg.Dialer,
		policy:       cfg.Policy,
		clock:        cfg.Clock,
		dialTimeout:  cfg.DialTimeout,
		writeTimeout: cfg.WriteTimeout,
		log:          log.With("component", "connection"),
		state:        StateIdle,
		queue:        newEventQueue(),
		events:       make(chan Event),
		ctx:          ctx,
		cancel:       cancel,
	}

	go m.queue.pump(ctx, m.events)
	return m
}

// Events delivers lifecycle events in the order they happened. The
// channel is closed by Dispose.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func (m *Manager) HasPendingReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Open starts connecting to url and returns immediately. Any previous
// socket is closed and any pending reconnect is cancelled first.
func (m *Manager) Open(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked()
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
	m.url = url
	m.log.Info("opening connection", "url", url)
	m.startDialLocked()
}

func (m *Manager) Send(f Frame) error {
	m.mu.Lock()
	if m.state != StateOpen || m.sock == nil {
		m.mu.Unlock()
		return shared.ErrNotConnected
	}
	sock := m.sock
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = sock.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := sock.WriteMessage(f.Type, f.Data); err != nil {
		return fmt.Errorf("%w: write: %v", shared.ErrTransport, err)
	}
	return nil
}

// Close is caller-initiated: no reconnect follows. The socket is closed
// before Close returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.stopTimerLocked()
	if m.state == StateIdle || m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}

	sock := m.sock
	m.sock = nil
	m.epoch++
	epoch := m.epoch
	m.state = StateClosing
	m.mu.Unlock()

	var err error
	if sock != nil {
		m.writeMu.Lock()
		_ = sock.SetWriteDeadline(time.Now().Add(m.writeTimeout))
		_ = sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonClient))
		m.writeMu.Unlock()
		err = sock.Close()
	}

	m.mu.Lock()
	if m.epoch == epoch {
		m.state = StateClosed
	}
	m.queue.push(Event{
		Type:      EventClosed,
		Code:      websocket.CloseNormalClosure,
		Reason:    closeReasonClient,
		Initiated: true,
	})
	m.mu.Unlock()

	m.log.Info("connection closed by client")
	return err
}

// Drop force-closes the live socket as if the peer had vanished, sending
// the manager down its reconnect path. It reports whether a socket was
// dropped.
func (m *Manager) Drop(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen || m.sock == nil {
		return false
	}

	_ = m.sock.Close()
	m.sock = nil
	m.log.Warn("dropping connection", "reason", reason)
	m.lostLocked(websocket.CloseAbnormalClosure, reason)
	return true
}

// Dispose closes the connection and stops event delivery.
func (m *Manager) Dispose() error {
	err := m.Close()
	m.cancel()
	return err
}

func (m *Manager) startDialLocked() {
	m.epoch++
	epoch := m.epoch
	url := m.url
	m.state = StateConnecting
	go m.dial(epoch, url)
}

func (m *Manager) dial(epoch uint64, url string) {
	ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
	defer cancel()

	sock, err := m.dialer.Dial(ctx, url)

	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		if sock != nil {
			_ = sock.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn("dial failed", "url", url, "error", err)
		m.queue.push(Event{Type: EventError, Err: fmt.Errorf("%w: %v", shared.ErrTransport, err)})
		m.lostLocked(websocket.CloseAbnormalClosure, err.Error())
		return
	}

	m.sock = sock
	m.state = StateOpen
	m.attempts = 0
	m.queue.push(Event{Type: EventOpened})
	m.log.Info("connection opened", "url", url)

	go m.readLoop(epoch, sock)
}

func (m *Manager) readLoop(epoch uint64, sock Socket) {
	for {
		typ, data, err := sock.ReadMessage()
		if err != nil {
			m.readFailed(epoch, sock, err)
			return
		}

		m.mu.Lock()
		if epoch != m.epoch {
			m.mu.Unlock()
			return
		}
		m.queue.push(Event{Type: EventMessage, Frame: Frame{Type: typ, Data: data}})
		m.mu.Unlock()
	}
}

func (m *Manager) readFailed(epoch uint64, sock Socket, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return
	}

	_ = sock.Close()
	m.sock = nil

	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		m.queue.push(Event{Type: EventError, Err: fmt.Errorf("%w: read: %v", shared.ErrTransport, err)})
	}

	code, reason := closeDetails(err)
	m.log.Info("connection lost", "code", code, "reason", reason)
	m.lostLocked(code, reason)
}

// lostLocked handles every close the caller did not ask for.
func (m *Manager) lostLocked(code int, reason string) {
	m.epoch++
	m.queue.push(Event{Type: EventClosed, Code: code, Reason: reason})

	if m.policy.GiveUp(m.attempts) {
		m.state = StateClosed
		m.queue.push(Event{
			Type:        EventReconnectFailed,
			Err:         shared.ErrReconnectExhausted,
			Attempt:     m.attempts,
			MaxAttempts: m.policy.MaxAttempts(),
		})
		m.log.Error("giving up reconnecting", "attempts", m.attempts)
		return
	}

	delay := m.policy.Delay(m.attempts)
	m.attempts++
	m.state = StateConnecting
	m.queue.push(Event{
		Type:        EventReconnecting,
		Attempt:     m.attempts,
		MaxAttempts: m.policy.MaxAttempts(),
		Delay:       delay,
	})
	m.log.Info("scheduling reconnect",
		"attempt", m.attempts,
		"max_attempts", m.policy.MaxAttempts(),
		"delay", delay)

	m.scheduleLocked(delay)
}

func (m *Manager) scheduleLocked(delay time.Duration) {
	m.stopTimerLocked()
	m.pending = true
	seq := m.timerSeq

	if delay <= 0 {
		go m.reconnectDue(seq)
		return
	}
	m.timer = m.clock.AfterFunc(delay, func() {
		m.reconnectDue(seq)
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = false
	m.timerSeq++
}

func (m *Manager) reconnectDue(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending || seq != m.timerSeq {
		return
	}
	m.pending = false
	m.timer = nil
	m.startDialLocked()
}
