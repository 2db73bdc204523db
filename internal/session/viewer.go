package session

import (
	"log/slog"

	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/heartbeat"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
)

// Viewer follows a room's captions. The heartbeat runs only while the
// connection is open.
type Viewer struct {
	*core
	monitor *heartbeat.Monitor
}

func NewViewer(cfg Config, conn *connection.Manager, hb heartbeat.Config, out sink.Sink, log *slog.Logger) (*Viewer, error) {
	c, err := newCore(shared.RoleViewer, cfg, conn, out, log)
	if err != nil {
		return nil, err
	}

	v := &Viewer{
		core:    c,
		monitor: heartbeat.NewMonitor(conn, hb, c.log),
	}
	go v.run(v)
	return v, nil
}

// Start connects unless a connection is already open or being made.
func (v *Viewer) Start() {
	switch v.conn.State() {
	case connection.StateConnecting, connection.StateOpen:
		return
	}
	v.publish(sink.StateConnecting, textConnecting)
	v.conn.Open(v.url)
}

// VisibilityRegained reconnects after the client was suspended, if the
// connection did not survive.
func (v *Viewer) VisibilityRegained() {
	v.Start()
}

func (v *Viewer) Stop() error {
	v.monitor.Disarm()
	return v.conn.Close()
}

func (v *Viewer) Dispose() error {
	v.monitor.Disarm()
	return v.dispose()
}

func (v *Viewer) opened() {
	v.monitor.Arm()
	v.publish(sink.StateConnected, textConnected)
}

func (v *Viewer) closed(ev connection.Event) {
	v.monitor.Disarm()
	v.publish(sink.StateDisconnected, textDisconnected)
}

func (v *Viewer) message() {
	v.monitor.Observe()
}

func (v *Viewer) failed() {
	v.monitor.Disarm()
}
