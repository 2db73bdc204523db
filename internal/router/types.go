package router

import (
	"time"

	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/eleven-am/live-captions/internal/shared"
)

type Sender interface {
	Send(f connection.Frame) error
}

// Handler receives decoded server messages. Calls happen on the
// session's dispatch goroutine, one at a time.
type Handler interface {
	OnConnectionEstablished(msg protocol.ConnectionEstablished)
	OnCaption(c protocol.Caption, latency time.Duration)
	OnViewerCount(count int)
	OnServerError(err *shared.ApplicationError)
}

// Outcome says what Route did with a frame.
type Outcome int

const (
	OutcomeDispatched Outcome = iota
	OutcomePong
	OutcomeLiveness
	OutcomeIgnored
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomePong:
		return "pong"
	case OutcomeLiveness:
		return "liveness"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}
