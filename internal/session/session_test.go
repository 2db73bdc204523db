package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/audio"
	"github.com/eleven-am/live-captions/internal/capture"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/connection/conntest"
	"github.com/eleven-am/live-captions/internal/heartbeat"
	"github.com/eleven-am/live-captions/internal/reconnect"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitForText(t *testing.T, board *sink.Board, want string) {
	t.Helper()
	waitFor(t, func() bool {
		return board.Snapshot().Status.Text == want
	}, "expected status "+want+", got "+board.Snapshot().Status.Text)
}

func nextSocket(t *testing.T, d *conntest.Dialer) *conntest.Socket {
	t.Helper()
	sock, ok := d.Next(waitTimeout)
	if !ok {
		t.Fatal("expected a connection to be dialed")
	}
	return sock
}

func nextWritten(t *testing.T, sock *conntest.Socket) connection.Frame {
	t.Helper()
	select {
	case f := <-sock.Written():
		return f
	case <-time.After(waitTimeout):
		t.Fatal("expected a frame to be written")
	}
	return connection.Frame{}
}

type viewerHarness struct {
	viewer *Viewer
	dialer *conntest.Dialer
	board  *sink.Board
	clock  *clock.Mock
}

func newViewerHarness(t *testing.T, policy reconnect.Policy, connClock clock.Clock, hb heartbeat.Config) *viewerHarness {
	t.Helper()
	mock := clock.NewMock()
	dialer := conntest.NewDialer()
	board := sink.NewBoard(mock)

	conn := connection.NewManager(connection.Config{Dialer: dialer, Policy: policy, Clock: connClock}, discardLogger())
	if hb.Interval == 0 {
		hb.Interval = time.Hour
	}
	v, err := NewViewer(Config{Room: "room1", BaseURL: "ws://test/ws", Clock: mock}, conn, hb, board, discardLogger())
	if err != nil {
		t.Fatalf("failed to create viewer: %v", err)
	}
	t.Cleanup(func() { _ = v.Dispose() })

	return &viewerHarness{viewer: v, dialer: dialer, board: board, clock: mock}
}

func TestNewViewer_InvalidRoom(t *testing.T) {
	conn := connection.NewManager(connection.Config{Dialer: conntest.NewDialer()}, discardLogger())
	defer conn.Dispose()

	if _, err := NewViewer(Config{BaseURL: "ws://test/ws"}, conn, heartbeat.Config{}, sink.NewBoard(nil), nil); err == nil {
		t.Error("expected error for empty room")
	}
}

func TestViewer_ReceivesCaption(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})
	h.clock.Set(time.Unix(1700000005, 0))

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")

	if urls := h.dialer.URLs(); urls[0] != "ws://test/ws/view/room1" {
		t.Errorf("expected viewer endpoint, got %s", urls[0])
	}
	if h.viewer.ID() == "" || !strings.HasPrefix(h.viewer.ID(), "ses_") {
		t.Errorf("expected generated session id, got %q", h.viewer.ID())
	}

	sock.PushText(`{"type":"connection_established","room_id":"room1"}`)
	sock.PushText(`{"type":"caption","original":"hola","translation":"hello","ts":1700000000.0}`)

	waitFor(t, func() bool { return len(h.viewer.History()) == 1 }, "expected caption in history")

	snap := h.board.Snapshot()
	if snap.Last == nil || snap.Last.LatencyMs != 5000 {
		t.Errorf("expected latency 5000ms, got %+v", snap.Last)
	}
	if got := h.viewer.History()[0]; got.Translation != "hello" {
		t.Errorf("unexpected caption %+v", got)
	}

	h.viewer.ClearHistory()
	if len(h.viewer.History()) != 0 {
		t.Error("expected empty history after clear")
	}
}

func TestViewer_AnswersPing(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)

	sock.PushText("ping")
	f := nextWritten(t, sock)
	if string(f.Data) != "pong" {
		t.Errorf("expected pong, got %s", f.Data)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(sock.Writes()); n != 1 {
		t.Errorf("expected exactly one frame written, got %d", n)
	}
}

func TestViewer_MalformedFrameKeepsConnection(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)

	sock.PushText("{not json")
	sock.PushText(`{"type":"caption","original":"a","translation":"b","ts":1}`)

	waitFor(t, func() bool { return len(h.viewer.History()) == 1 }, "expected caption after malformed frame")
	if h.viewer.State() != connection.StateOpen {
		t.Errorf("expected connection to stay open, got %s", h.viewer.State())
	}
	if sock.IsClosed() || h.dialer.Dials() != 1 {
		t.Error("malformed frame must not disturb the connection")
	}
}

func TestViewer_StartIsGuarded(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")

	h.viewer.Start()
	h.viewer.VisibilityRegained()

	time.Sleep(20 * time.Millisecond)
	if h.dialer.Dials() != 1 {
		t.Errorf("expected a single dial, got %d", h.dialer.Dials())
	}
}

func TestViewer_VisibilityRegainedReconnects(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")

	if err := h.viewer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitForText(t, h.board, "Disconnected")

	h.viewer.VisibilityRegained()
	nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")
}

func TestViewer_StopDoesNotReconnect(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	nextSocket(t, h.dialer)
	waitFor(t, h.viewer.monitor.Armed, "expected heartbeat armed on open")

	if err := h.viewer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if h.viewer.monitor.Armed() {
		t.Error("expected heartbeat disarmed after stop")
	}

	waitForText(t, h.board, "Disconnected")
	time.Sleep(20 * time.Millisecond)
	if h.dialer.Dials() != 1 {
		t.Errorf("expected no reconnect, got %d dials", h.dialer.Dials())
	}
	if h.viewer.Err() != nil {
		t.Errorf("expected no terminal error, got %v", h.viewer.Err())
	}
}

func TestViewer_ReconnectStatusText(t *testing.T) {
	connClock := clock.NewMock()
	policy := reconnect.Exponential{Base: time.Second, Growth: 1.5, Cap: 30 * time.Second, Attempts: 10}
	h := newViewerHarness(t, policy, connClock, heartbeat.Config{})

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")

	sock.PushClose(websocket.CloseGoingAway, "restart")
	waitForText(t, h.board, "Reconnecting (1/10) in 1s...")

	if h.board.Snapshot().Status.State != sink.StateConnecting {
		t.Errorf("expected connecting state, got %s", h.board.Snapshot().Status.State)
	}

	connClock.Add(time.Second)
	nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")
}

func TestViewer_ReconnectExhausted(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 2}, nil, heartbeat.Config{})

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Connected")

	h.dialer.SetFail(true)
	sock.PushClose(websocket.CloseGoingAway, "bye")

	select {
	case <-h.viewer.Terminated():
	case <-time.After(waitTimeout):
		t.Fatal("expected viewer to terminate")
	}

	if !errors.Is(h.viewer.Err(), shared.ErrReconnectExhausted) {
		t.Errorf("expected ErrReconnectExhausted, got %v", h.viewer.Err())
	}
	if text := h.board.Snapshot().Status.Text; text != "Failed to reconnect" {
		t.Errorf("expected failure text, got %q", text)
	}
	if h.dialer.Dials() != 3 {
		t.Errorf("expected 3 dials, got %d", h.dialer.Dials())
	}
	if h.viewer.monitor.Armed() {
		t.Error("heartbeat must not run after giving up")
	}
}

func TestViewer_HeartbeatForcesReconnect(t *testing.T) {
	hbClock := clock.NewMock()
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil,
		heartbeat.Config{Interval: 30 * time.Second, Timeout: 10 * time.Second, Clock: hbClock})

	h.viewer.Start()
	first := nextSocket(t, h.dialer)
	waitFor(t, h.viewer.monitor.Armed, "expected heartbeat armed on open")

	hbClock.Add(30 * time.Second)
	if f := nextWritten(t, first); string(f.Data) != "ping" {
		t.Fatalf("expected ping, got %s", f.Data)
	}

	hbClock.Add(10 * time.Second)
	nextSocket(t, h.dialer)

	if !first.IsClosed() {
		t.Error("expected silent socket to be closed")
	}
	waitForText(t, h.board, "Connected")
	if h.dialer.Dials() != 2 {
		t.Errorf("expected exactly one reconnect, got %d dials", h.dialer.Dials())
	}
}

func TestViewer_ServerErrorNotification(t *testing.T) {
	h := newViewerHarness(t, reconnect.Immediate{Attempts: 3}, nil, heartbeat.Config{})

	h.viewer.Start()
	sock := nextSocket(t, h.dialer)
	sock.PushText(`{"type":"error","message":"room not found"}`)

	waitFor(t, func() bool { return h.board.Snapshot().Notification != nil }, "expected notification")
	if msg := h.board.Snapshot().Notification.Message; msg != "room not found" {
		t.Errorf("expected room not found, got %s", msg)
	}

	h.clock.Add(sink.NotificationTTL)
	if h.board.Snapshot().Notification != nil {
		t.Error("expected notification to expire")
	}
	if h.viewer.State() != connection.StateOpen {
		t.Error("server error must not close the connection")
	}
}

type broadcasterHarness struct {
	broadcaster *Broadcaster
	dialer      *conntest.Dialer
	board       *sink.Board
	audio       *io.PipeWriter
}

func newBroadcasterHarness(t *testing.T, policy reconnect.Policy, provider capture.Provider) *broadcasterHarness {
	t.Helper()
	dialer := conntest.NewDialer()
	board := sink.NewBoard(nil)

	var pw *io.PipeWriter
	if provider == nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		provider = &capture.FileProvider{Stdin: pr, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	}

	conn := connection.NewManager(connection.Config{Dialer: dialer, Policy: policy}, discardLogger())
	b, err := NewBroadcaster(Config{Room: "room1", BaseURL: "http://test/ws"}, conn, provider,
		capture.Config{ChunkDuration: 250 * time.Millisecond}, board, discardLogger())
	if err != nil {
		t.Fatalf("failed to create broadcaster: %v", err)
	}
	t.Cleanup(func() {
		if pw != nil {
			_ = pw.Close()
		}
		_ = b.Dispose()
	})

	return &broadcasterHarness{broadcaster: b, dialer: dialer, board: board, audio: pw}
}

func TestBroadcaster_StreamsChunks(t *testing.T) {
	h := newBroadcasterHarness(t, reconnect.Immediate{Attempts: 3}, nil)

	if err := h.broadcaster.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Broadcasting")

	if urls := h.dialer.URLs(); urls[0] != "ws://test/ws/stream/room1" {
		t.Errorf("expected broadcaster endpoint, got %s", urls[0])
	}

	go func() {
		_, _ = h.audio.Write(audio.EncodePCM16(make([]int16, 4000)))
	}()

	f := nextWritten(t, sock)
	if f.IsText() || len(f.Data) != 8000 {
		t.Errorf("expected 8000-byte binary chunk, got text=%v len=%d", f.IsText(), len(f.Data))
	}
	if sent, _ := h.broadcaster.ChunkStats(); sent != 1 {
		t.Errorf("expected 1 chunk sent, got %d", sent)
	}
}

func TestBroadcaster_ViewerCountAndCaptions(t *testing.T) {
	h := newBroadcasterHarness(t, reconnect.Immediate{Attempts: 3}, nil)

	if err := h.broadcaster.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sock := nextSocket(t, h.dialer)

	sock.PushText(`{"type":"viewer_count","count":3}`)
	sock.PushText(`{"type":"caption","original":"hola","translation":"hello","ts":1}`)

	waitFor(t, func() bool {
		snap := h.board.Snapshot()
		return snap.ViewerCount != nil && *snap.ViewerCount == 3 && snap.Captions == 1
	}, "expected viewer count and caption")

	if len(h.broadcaster.History()) != 1 {
		t.Errorf("expected caption in broadcaster history, got %d", len(h.broadcaster.History()))
	}
}

func TestBroadcaster_NoDevice(t *testing.T) {
	provider := &capture.FileProvider{Path: filepath.Join(t.TempDir(), "missing.pcm")}
	h := newBroadcasterHarness(t, reconnect.Immediate{Attempts: 3}, provider)

	err := h.broadcaster.Start(context.Background(), "")
	if !errors.Is(err, shared.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if h.broadcaster.Capturing() {
		t.Error("broadcaster must not be capturing")
	}
	if !strings.HasPrefix(h.board.Snapshot().Status.Text, "Microphone error") {
		t.Errorf("unexpected status %q", h.board.Snapshot().Status.Text)
	}
	time.Sleep(20 * time.Millisecond)
	if h.dialer.Dials() != 0 {
		t.Errorf("expected no dial without a device, got %d", h.dialer.Dials())
	}
}

func TestBroadcaster_StopsCaptureWhenReconnectFails(t *testing.T) {
	h := newBroadcasterHarness(t, reconnect.Immediate{Attempts: 1}, nil)

	if err := h.broadcaster.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Broadcasting")

	h.dialer.SetFail(true)
	sock.PushClose(websocket.CloseGoingAway, "server restart")

	select {
	case <-h.broadcaster.Terminated():
	case <-time.After(waitTimeout):
		t.Fatal("expected broadcaster to terminate")
	}

	waitFor(t, func() bool { return !h.broadcaster.Capturing() }, "expected capture stopped")
	if !errors.Is(h.broadcaster.Err(), shared.ErrReconnectExhausted) {
		t.Errorf("expected ErrReconnectExhausted, got %v", h.broadcaster.Err())
	}
	if text := h.board.Snapshot().Status.Text; text != "Failed to reconnect" {
		t.Errorf("expected failure text, got %q", text)
	}
}

func TestBroadcaster_Stop(t *testing.T) {
	h := newBroadcasterHarness(t, reconnect.Immediate{Attempts: 3}, nil)

	if err := h.broadcaster.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sock := nextSocket(t, h.dialer)
	waitForText(t, h.board, "Broadcasting")

	if err := h.broadcaster.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if h.broadcaster.Capturing() {
		t.Error("expected capture stopped")
	}
	if !sock.IsClosed() {
		t.Error("expected connection closed")
	}
	waitForText(t, h.board, "Stopped")

	if err := h.broadcaster.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

func TestReconnectText(t *testing.T) {
	tests := []struct {
		attempt, max int
		delay        time.Duration
		expected     string
	}{
		{1, 5, 0, "Reconnecting (1/5) in 0s..."},
		{2, 5, time.Second, "Reconnecting (2/5) in 1s..."},
		{3, 10, 2250 * time.Millisecond, "Reconnecting (3/10) in 2s..."},
		{10, 10, 30 * time.Second, "Reconnecting (10/10) in 30s..."},
	}

	for _, tt := range tests {
		if got := reconnectText(tt.attempt, tt.max, tt.delay); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}
