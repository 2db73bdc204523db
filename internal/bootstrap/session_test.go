package bootstrap

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/session"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
	"github.com/redis/go-redis/v9"
)

func testParams(t *testing.T, role shared.Role) SessionParams {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock()
	cfg := &Config{
		Role:          role,
		ServerURL:     "ws://localhost:8000/ws",
		Room:          "room1",
		InputRate:     16000,
		InputChannels: 1,
		Encoding:      "pcm16",
		HistorySize:   10,
	}
	return SessionParams{
		Config:   cfg,
		Conn:     ProvideConnection(cfg, clk, logger),
		Sink:     ProvideSink(cfg, ProvideBoard(clk), nil, logger),
		Provider: ProvideCaptureProvider(cfg, clk),
		Clock:    clk,
		Logger:   logger,
	}
}

func TestProvideSession_Roles(t *testing.T) {
	tests := []struct {
		role    shared.Role
		wantURL string
	}{
		{shared.RoleViewer, "ws://localhost:8000/ws/view/room1"},
		{shared.RoleBroadcaster, "ws://localhost:8000/ws/stream/room1"},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			s, err := ProvideSession(testParams(t, tt.role))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer s.Dispose()

			var url string
			switch v := s.(type) {
			case *session.Viewer:
				url = v.URL()
			case *session.Broadcaster:
				url = v.URL()
			default:
				t.Fatalf("unexpected session type %T", s)
			}
			if url != tt.wantURL {
				t.Errorf("expected %s, got %s", tt.wantURL, url)
			}
			if s.Room() != "room1" {
				t.Errorf("expected room1, got %s", s.Room())
			}
		})
	}
}

func TestProvideSession_UnknownEncoding(t *testing.T) {
	p := testParams(t, shared.RoleBroadcaster)
	p.Config.Encoding = "opus"

	if _, err := ProvideSession(p); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestProvideSink_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{Room: "room1"}

	out, ok := ProvideSink(cfg, ProvideBoard(clock.NewMock()), rdb, logger).(sink.Multi)
	if !ok {
		t.Fatal("expected a multi sink")
	}
	if len(out) != 3 {
		t.Errorf("expected log, board and redis sinks, got %d", len(out))
	}

	out, _ = ProvideSink(cfg, ProvideBoard(clock.NewMock()), nil, logger).(sink.Multi)
	if len(out) != 2 {
		t.Errorf("expected log and board sinks, got %d", len(out))
	}
}
