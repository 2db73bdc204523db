package connection

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventType int

const (
	EventOpened EventType = iota + 1
	EventClosed
	EventError
	EventMessage
	EventReconnecting
	EventReconnectFailed
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Frame is one websocket message. Type is websocket.TextMessage or
// websocket.BinaryMessage.
type Frame struct {
	Type int
	Data []byte
}

func TextFrame(s string) Frame {
	return Frame{Type: websocket.TextMessage, Data: []byte(s)}
}

func BinaryFrame(b []byte) Frame {
	return Frame{Type: websocket.BinaryMessage, Data: b}
}

func (f Frame) IsText() bool {
	return f.Type == websocket.TextMessage
}

type Event struct {
	Type  EventType
	Frame Frame

	// closed
	Code      int
	Reason    string
	Initiated bool

	// error, reconnect_failed
	Err error

	// reconnecting, reconnect_failed
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}
