package protocol

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eleven-am/live-captions/internal/shared"
)

type MessageType string

const (
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypeCaption               MessageType = "caption"
	MessageTypeViewerCount           MessageType = "viewer_count"
	MessageTypeError                 MessageType = "error"
)

// Liveness tokens travel as bare text frames, never inside an envelope.
const (
	TokenPing = "ping"
	TokenPong = "pong"
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ConnectionEstablished struct {
	Type    MessageType `json:"type"`
	RoomID  string      `json:"room_id,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Caption is one original/translated text pair. TS is the producer clock
// in seconds since the epoch and is only used for latency display.
type Caption struct {
	Type        MessageType `json:"type"`
	Original    string      `json:"original"`
	Translation string      `json:"translation"`
	TS          float64     `json:"ts"`
}

func (c Caption) SourceTime() time.Time {
	sec := int64(c.TS)
	nsec := int64((c.TS - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Latency is now minus the producer timestamp.
func (c Caption) Latency(now time.Time) time.Duration {
	return now.Sub(c.SourceTime())
}

type ViewerCount struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// EndpointURL joins the server base with the role path and the escaped room.
func EndpointURL(base string, role shared.Role, room string) (string, error) {
	if strings.TrimSpace(room) == "" {
		return "", fmt.Errorf("endpoint: empty room")
	}

	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("endpoint: parse base: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme)
	}

	var segment string
	switch role {
	case shared.RoleBroadcaster:
		segment = "stream"
	case shared.RoleViewer:
		segment = "view"
	default:
		return "", fmt.Errorf("endpoint: unknown role %q", role)
	}

	return strings.TrimRight(u.String(), "/") + "/" + segment + "/" + url.PathEscape(room), nil
}
