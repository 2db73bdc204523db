package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/audio"
	"github.com/eleven-am/live-captions/internal/capture"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/health"
	"github.com/eleven-am/live-captions/internal/heartbeat"
	"github.com/eleven-am/live-captions/internal/reconnect"
	"github.com/eleven-am/live-captions/internal/session"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Session is the part of a viewer or broadcaster the process drives.
type Session interface {
	health.Session
	Terminated() <-chan struct{}
	Dispose() error
}

func ProvideConnection(cfg *Config, clk clock.Clock, logger *slog.Logger) *connection.Manager {
	policy := reconnect.FromConfig(cfg.Backoff, cfg.Role)
	return connection.NewManager(connection.Config{
		Policy: policy,
		Clock:  clk,
	}, logger)
}

func ProvideBoard(clk clock.Clock) *sink.Board {
	return sink.NewBoard(clk)
}

func ProvideSink(cfg *Config, board *sink.Board, rdb *redis.Client, logger *slog.Logger) sink.Sink {
	out := sink.Multi{sink.NewLogSink(logger), board}
	if rdb != nil {
		out = append(out, sink.NewRedisSink(rdb, cfg.Room, logger))
	}
	return out
}

func ProvideCaptureProvider(cfg *Config, clk clock.Clock) capture.Provider {
	return &capture.FileProvider{
		Path: cfg.InputPath,
		Format: audio.Format{
			SampleRate: cfg.InputRate,
			Channels:   cfg.InputChannels,
		},
		Stdin:    os.Stdin,
		Realtime: cfg.InputRealtime,
		Clock:    clk,
	}
}

type SessionParams struct {
	fx.In

	Config   *Config
	Conn     *connection.Manager
	Sink     sink.Sink
	Provider capture.Provider
	Clock    clock.Clock
	Logger   *slog.Logger
}

func ProvideSession(p SessionParams) (Session, error) {
	sc := session.Config{
		Room:        p.Config.Room,
		BaseURL:     p.Config.ServerURL,
		HistorySize: p.Config.HistorySize,
		Clock:       p.Clock,
	}

	switch p.Config.Role {
	case shared.RoleBroadcaster:
		enc, err := capture.NewEncoder(p.Config.Encoding)
		if err != nil {
			return nil, err
		}
		return session.NewBroadcaster(sc, p.Conn, p.Provider, capture.Config{
			ChunkDuration: p.Config.ChunkDuration,
			Constraints:   capture.DefaultConstraints(),
			Encoder:       enc,
			BufferChunks:  p.Config.ChunkBuffer,
		}, p.Sink, p.Logger)
	case shared.RoleViewer:
		return session.NewViewer(sc, p.Conn, heartbeat.Config{
			Interval: p.Config.PingInterval,
			Timeout:  p.Config.PongTimeout,
			Clock:    p.Clock,
		}, p.Sink, p.Logger)
	default:
		return nil, fmt.Errorf("unknown role %q", p.Config.Role)
	}
}

func startSession(ctx context.Context, s Session, device string) error {
	switch s := s.(type) {
	case *session.Broadcaster:
		return s.Start(ctx, device)
	case *session.Viewer:
		s.Start()
		return nil
	default:
		return fmt.Errorf("unsupported session %T", s)
	}
}

// StartSession connects once the graph is built and shuts the process
// down with a non-zero exit code when the session gives up reconnecting.
func StartSession(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *Config, s Session, logger *slog.Logger) {
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting caption session",
				"session_id", s.ID(),
				"role", cfg.Role.String(),
				"room", cfg.Room,
				"server", cfg.ServerURL)

			if err := startSession(ctx, s, cfg.Device); err != nil {
				return err
			}

			go func() {
				select {
				case <-s.Terminated():
					logger.Error("caption session terminated", "error", s.Err())
					if err := shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
						logger.Error("shutdown failed", "error", err)
					}
				case <-done:
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return s.Dispose()
		},
	})
}

var SessionModule = fx.Options(
	fx.Provide(
		ProvideConnection,
		ProvideBoard,
		ProvideSink,
		ProvideCaptureProvider,
		ProvideSession,
	),
	fx.Invoke(StartSession),
)
