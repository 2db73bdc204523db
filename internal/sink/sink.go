// Package sink receives what a caption session has to show: connection
// status, captions, viewer counts and short-lived notifications.
package sink

import (
	"log/slog"
	"time"

	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/eleven-am/live-captions/internal/shared"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// NotificationTTL is how long server error messages stay visible.
const NotificationTTL = 5 * time.Second

type Status struct {
	SessionID string      `json:"session_id"`
	Role      shared.Role `json:"role"`
	Room      string      `json:"room"`
	State     State       `json:"state"`
	Text      string      `json:"text"`
	At        time.Time   `json:"at"`
}

// Sink implementations must not block; they are called from the
// session's dispatch goroutine.
type Sink interface {
	Status(s Status)
	Caption(c protocol.Caption, latency time.Duration)
	ViewerCount(count int)
	Notify(message string, ttl time.Duration)
}

type Multi []Sink

func (m Multi) Status(s Status) {
	for _, sk := range m {
		sk.Status(s)
	}
}

func (m Multi) Caption(c protocol.Caption, latency time.Duration) {
	for _, sk := range m {
		sk.Caption(c, latency)
	}
}

func (m Multi) ViewerCount(count int) {
	for _, sk := range m {
		sk.ViewerCount(count)
	}
}

func (m Multi) Notify(message string, ttl time.Duration) {
	for _, sk := range m {
		sk.Notify(message, ttl)
	}
}

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("component", "sink")}
}

func (s *LogSink) Status(st Status) {
	s.log.Info("status", "state", st.State, "text", st.Text, "room", st.Room)
}

func (s *LogSink) Caption(c protocol.Caption, latency time.Duration) {
	s.log.Info("caption",
		"original", c.Original,
		"translation", c.Translation,
		"latency_ms", latency.Milliseconds())
}

func (s *LogSink) ViewerCount(count int) {
	s.log.Info("viewer count", "count", count)
}

func (s *LogSink) Notify(message string, ttl time.Duration) {
	s.log.Warn("notification", "message", message, "ttl", ttl)
}
