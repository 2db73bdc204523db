package sink

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/protocol"
)

type Notification struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LastCaption struct {
	Caption   protocol.Caption `json:"caption"`
	LatencyMs int64            `json:"latency_ms"`
}

type BoardSnapshot struct {
	Status       Status        `json:"status"`
	ViewerCount  *int          `json:"viewer_count,omitempty"`
	Captions     int           `json:"captions_received"`
	Last         *LastCaption  `json:"last_caption,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Board keeps the latest value of everything a session has published so
// the status API can serve it. Notifications disappear once their ttl
// has passed.
type Board struct {
	clock clock.Clock

	mu           sync.RWMutex
	status       Status
	viewerCount  *int
	captions     int
	last         *LastCaption
	notification *Notification
}

func NewBoard(clk clock.Clock) *Board {
	if clk == nil {
		clk = clock.New()
	}
	return &Board{clock: clk}
}

func (b *Board) Status(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Board) Caption(c protocol.Caption, latency time.Duration) {
	b.mu.Lock()
	b.captions++
	b.last = &LastCaption{Caption: c, LatencyMs: latency.Milliseconds()}
	b.mu.Unlock()
}

func (b *Board) ViewerCount(count int) {
	b.mu.Lock()
	b.viewerCount = &count
	b.mu.Unlock()
}

func (b *Board) Notify(message string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = NotificationTTL
	}
	b.mu.Lock()
	b.notification = &Notification{Message: message, ExpiresAt: b.clock.Now().Add(ttl)}
	b.mu.Unlock()
}

func (b *Board) Snapshot() BoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BoardSnapshot{
		Status:   b.status,
		Captions: b.captions,
	}
	if b.viewerCount != nil {
		n := *b.viewerCount
		snap.ViewerCount = &n
	}
	if b.last != nil {
		last := *b.last
		snap.Last = &last
	}
	if b.notification != nil && b.clock.Now().Before(b.notification.ExpiresAt) {
		n := *b.notification
		snap.Notification = &n
	}
	return snap
}
