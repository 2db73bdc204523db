// Package router turns inbound caption frames into handler calls.
// Liveness tokens are answered before any decoding happens.
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/eleven-am/live-captions/internal/shared"
)

type Router struct {
	role    shared.Role
	sender  Sender
	handler Handler
	clock   clock.Clock
	log     *slog.Logger
}

func New(role shared.Role, sender Sender, handler Handler, clk clock.Clock, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Router{
		role:    role,
		sender:  sender,
		handler: handler,
		clock:   clk,
		log:     log.With("component", "router", "role", role.String()),
	}
}

// Route handles one inbound frame. A malformed frame yields an error
// wrapping shared.ErrDecodeFailure; the connection is left alone.
func (r *Router) Route(f connection.Frame) (Outcome, error) {
	if !f.IsText() {
		r.log.Debug("ignoring binary frame", "size", len(f.Data))
		return OutcomeIgnored, nil
	}

	switch string(f.Data) {
	case protocol.TokenPing:
		if err := r.sender.Send(connection.TextFrame(protocol.TokenPong)); err != nil {
			return OutcomePong, fmt.Errorf("send pong: %w", err)
		}
		return OutcomePong, nil
	case protocol.TokenPong:
		return OutcomeLiveness, nil
	}

	var env protocol.Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		r.log.Warn("dropping malformed frame", "error", err)
		return OutcomeMalformed, fmt.Errorf("%w: %v", shared.ErrDecodeFailure, err)
	}

	switch env.Type {
	case protocol.MessageTypeConnectionEstablished:
		var msg protocol.ConnectionEstablished
		if err := r.decode(f.Data, &msg); err != nil {
			return OutcomeMalformed, err
		}
		r.handler.OnConnectionEstablished(msg)

	case protocol.MessageTypeCaption:
		var c protocol.Caption
		if err := r.decode(f.Data, &c); err != nil {
			return OutcomeMalformed, err
		}
		r.handler.OnCaption(c, c.Latency(r.clock.Now()))

	case protocol.MessageTypeViewerCount:
		if r.role != shared.RoleBroadcaster {
			return OutcomeIgnored, nil
		}
		var vc protocol.ViewerCount
		if err := r.decode(f.Data, &vc); err != nil {
			return OutcomeMalformed, err
		}
		r.handler.OnViewerCount(vc.Count)

	case protocol.MessageTypeError:
		var em protocol.ErrorMessage
		if err := r.decode(f.Data, &em); err != nil {
			return OutcomeMalformed, err
		}
		r.log.Warn("server reported error", "message", em.Message)
		r.handler.OnServerError(&shared.ApplicationError{Message: em.Message})

	default:
		r.log.Debug("ignoring unknown message type", "type", env.Type)
		return OutcomeIgnored, nil
	}

	return OutcomeDispatched, nil
}

func (r *Router) decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		r.log.Warn("dropping malformed frame", "error", err)
		return fmt.Errorf("%w: %v", shared.ErrDecodeFailure, err)
	}
	return nil
}
