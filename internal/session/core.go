// Package session runs the viewer and broadcaster state machines on top
// of a connection.Manager.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/captions"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/eleven-am/live-captions/internal/router"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
)

const (
	textConnecting   = "Connecting..."
	textConnected    = "Connected"
	textBroadcasting = "Broadcasting"
	textDisconnected = "Disconnected"
	textStopped      = "Stopped"
	textError        = "Connection error"
	textFailed       = "Failed to reconnect"
)

type Config struct {
	ID          string
	Room        string
	BaseURL     string
	HistorySize int
	Clock       clock.Clock
}

// hooks lets each role react to lifecycle events after the shared
// handling has run.
type hooks interface {
	opened()
	closed(ev connection.Event)
	message()
	failed()
}

type core struct {
	id      string
	role    shared.Role
	room    string
	url     string
	conn    *connection.Manager
	router  *router.Router
	history *captions.History
	sink    sink.Sink
	clock   clock.Clock
	log     *slog.Logger

	mu  sync.Mutex
	err error

	terminated chan struct{}
	termOnce   sync.Once
	loopDone   chan struct{}
}

func newCore(role shared.Role, cfg Config, conn *connection.Manager, out sink.Sink, log *slog.Logger) (*core, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ID == "" {
		cfg.ID = shared.NewID("ses_")
	}

	url, err := protocol.EndpointURL(cfg.BaseURL, role, cfg.Room)
	if err != nil {
		return nil, err
	}

	c := &core{
		id:         cfg.ID,
		role:       role,
		room:       cfg.Room,
		url:        url,
		conn:       conn,
		history:    captions.NewHistory(cfg.HistorySize),
		sink:       out,
		clock:      cfg.Clock,
		log:        log.With("session_id", cfg.ID, "role", role.String(), "room", cfg.Room),
		terminated: make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	c.router = router.New(role, conn, c, cfg.Clock, log)
	return c, nil
}

func (c *core) run(h hooks) {
	defer close(c.loopDone)
	for ev := range c.conn.Events() {
		c.handle(ev, h)
	}
}

func (c *core) handle(ev connection.Event, h hooks) {
	switch ev.Type {
	case connection.EventOpened:
		c.log.Info("session connected")
		h.opened()

	case connection.EventClosed:
		c.log.Info("session disconnected", "code", ev.Code, "reason", ev.Reason, "initiated", ev.Initiated)
		h.closed(ev)

	case connection.EventError:
		c.log.Warn("connection error", "error", ev.Err)
		c.publish(sink.StateDisconnected, textError)

	case connection.EventMessage:
		h.message()
		if _, err := c.router.Route(ev.Frame); err != nil && !errors.Is(err, shared.ErrDecodeFailure) {
			c.log.Debug("route failed", "error", err)
		}

	case connection.EventReconnecting:
		c.publish(sink.StateConnecting, reconnectText(ev.Attempt, ev.MaxAttempts, ev.Delay))

	case connection.EventReconnectFailed:
		c.mu.Lock()
		c.err = ev.Err
		c.mu.Unlock()
		c.log.Error("session lost", "attempts", ev.Attempt, "error", ev.Err)
		c.publish(sink.StateDisconnected, textFailed)
		h.failed()
		c.termOnce.Do(func() { close(c.terminated) })
	}
}

func reconnectText(attempt, maxAttempts int, delay time.Duration) string {
	secs := int(math.Round(delay.Seconds()))
	return fmt.Sprintf("Reconnecting (%d/%d) in %ds...", attempt, maxAttempts, secs)
}

func (c *core) publish(state sink.State, text string) {
	c.sink.Status(sink.Status{
		SessionID: c.id,
		Role:      c.role,
		Room:      c.room,
		State:     state,
		Text:      text,
		At:        c.clock.Now(),
	})
}

func (c *core) OnConnectionEstablished(msg protocol.ConnectionEstablished) {
	c.log.Info("server acknowledged connection", "room_id", msg.RoomID, "message", msg.Message)
}

func (c *core) OnCaption(cp protocol.Caption, latency time.Duration) {
	c.history.Append(cp)
	c.sink.Caption(cp, latency)
}

func (c *core) OnViewerCount(count int) {
	c.sink.ViewerCount(count)
}

func (c *core) OnServerError(err *shared.ApplicationError) {
	c.sink.Notify(err.Message, sink.NotificationTTL)
}

func (c *core) ID() string   { return c.id }
func (c *core) Room() string { return c.room }
func (c *core) URL() string  { return c.url }

func (c *core) State() connection.State {
	return c.conn.State()
}

func (c *core) History() []protocol.Caption {
	return c.history.Snapshot()
}

func (c *core) ClearHistory() {
	c.history.Clear()
}

// Err is the terminal error, set once reconnecting has been given up.
func (c *core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Terminated is closed when the session can no longer recover.
func (c *core) Terminated() <-chan struct{} {
	return c.terminated
}

func (c *core) dispose() error {
	err := c.conn.Dispose()
	<-c.loopDone
	return err
}
