package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "captions:"
	publishTimeout = 2 * time.Second
)

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventCaption      EventKind = "caption"
	EventViewerCount  EventKind = "viewer_count"
	EventNotification EventKind = "notification"
)

// Event is the JSON document published for every sink call.
type Event struct {
	Kind        EventKind         `json:"kind"`
	Room        string            `json:"room"`
	Status      *Status           `json:"status,omitempty"`
	Caption     *protocol.Caption `json:"caption,omitempty"`
	LatencyMs   int64             `json:"latency_ms,omitempty"`
	ViewerCount *int              `json:"viewer_count,omitempty"`
	Message     string            `json:"message,omitempty"`
	TTLMs       int64             `json:"ttl_ms,omitempty"`
}

func Channel(room string) string {
	return channelPrefix + room
}

// RedisSink republishes session output on a per-room pub/sub channel so
// other processes (overlays, recorders) can follow along.
type RedisSink struct {
	redis  *redis.Client
	room   string
	logger *slog.Logger
}

func NewRedisSink(client *redis.Client, room string, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{
		redis:  client,
		room:   room,
		logger: logger.With("component", "redis_sink", "room", room),
	}
}

func (s *RedisSink) Status(st Status) {
	s.publish(Event{Kind: EventStatus, Status: &st})
}

func (s *RedisSink) Caption(c protocol.Caption, latency time.Duration) {
	s.publish(Event{Kind: EventCaption, Caption: &c, LatencyMs: latency.Milliseconds()})
}

func (s *RedisSink) ViewerCount(count int) {
	s.publish(Event{Kind: EventViewerCount, ViewerCount: &count})
}

func (s *RedisSink) Notify(message string, ttl time.Duration) {
	s.publish(Event{Kind: EventNotification, Message: message, TTLMs: ttl.Milliseconds()})
}

func (s *RedisSink) publish(ev Event) {
	ev.Room = s.room
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal sink event", "kind", ev.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.redis.Publish(ctx, Channel(s.room), data).Err(); err != nil {
		s.logger.Warn("failed to publish sink event", "kind", ev.Kind, "error", err)
	}
}
