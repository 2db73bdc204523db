package session

import (
	"context"
	"log/slog"

	"github.com/eleven-am/live-captions/internal/capture"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
)

// Broadcaster streams microphone audio into a room and shows the
// captions the server produces from it.
type Broadcaster struct {
	*core
	pipeline *capture.Pipeline
}

func NewBroadcaster(cfg Config, conn *connection.Manager, provider capture.Provider, pc capture.Config, out sink.Sink, log *slog.Logger) (*Broadcaster, error) {
	c, err := newCore(shared.RoleBroadcaster, cfg, conn, out, log)
	if err != nil {
		return nil, err
	}

	pc.URL = c.url
	b := &Broadcaster{
		core:     c,
		pipeline: capture.NewPipeline(provider, conn, pc, c.log),
	}
	go b.run(b)
	return b, nil
}

// Start acquires the device and begins streaming. An empty deviceID
// selects the default device.
func (b *Broadcaster) Start(ctx context.Context, deviceID string) error {
	if b.pipeline.Running() {
		return nil
	}
	b.publish(sink.StateConnecting, textConnecting)

	if err := b.pipeline.Start(ctx, deviceID); err != nil {
		b.log.Error("failed to start capture", "device", deviceID, "error", err)
		b.publish(sink.StateDisconnected, "Microphone error: "+err.Error())
		return err
	}
	return nil
}

func (b *Broadcaster) Stop() error {
	return b.pipeline.Stop()
}

func (b *Broadcaster) Capturing() bool {
	return b.pipeline.Running()
}

func (b *Broadcaster) Device() capture.Device {
	return b.pipeline.Device()
}

// ChunkStats reports how many chunks were sent and dropped.
func (b *Broadcaster) ChunkStats() (sent, dropped int64) {
	return b.pipeline.Sent(), b.pipeline.Dropped()
}

func (b *Broadcaster) Dispose() error {
	if err := b.pipeline.Stop(); err != nil {
		b.log.Warn("stopping capture", "error", err)
	}
	return b.dispose()
}

func (b *Broadcaster) opened() {
	b.publish(sink.StateConnected, textBroadcasting)
}

func (b *Broadcaster) closed(ev connection.Event) {
	if ev.Initiated {
		b.publish(sink.StateDisconnected, textStopped)
		return
	}
	b.publish(sink.StateDisconnected, textDisconnected)
}

func (b *Broadcaster) message() {}

// failed releases the device; nothing may keep recording once the
// connection is gone for good.
func (b *Broadcaster) failed() {
	if err := b.pipeline.Stop(); err != nil {
		b.log.Warn("stopping capture after disconnect", "error", err)
	}
}
