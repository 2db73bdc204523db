package health

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/protocol"
	"github.com/eleven-am/live-captions/internal/shared"
	"github.com/eleven-am/live-captions/internal/sink"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const maxCaptionLimit = 1000

// Session is the read side of a running caption session.
type Session interface {
	ID() string
	Room() string
	State() connection.State
	History() []protocol.Caption
	ClearHistory()
	Err() error
}

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Requests      uint64                     `json:"total_requests"`
	Runtime       RuntimeStats               `json:"runtime"`
	Components    map[string]ComponentStatus `json:"components"`
}

type StatusResponse struct {
	SessionID  string             `json:"session_id"`
	Room       string             `json:"room"`
	Connection string             `json:"connection"`
	Error      string             `json:"error,omitempty"`
	Board      sink.BoardSnapshot `json:"board"`
}

type CaptionsResponse struct {
	Total    int                `json:"total"`
	Captions []protocol.Caption `json:"captions"`
}

type Handler struct {
	session   Session
	board     *sink.Board
	redis     *redis.Client
	version   string
	startTime time.Time

	totalRequests uint64
}

// NewHandler serves status for one session. redis may be nil when the
// redis sink is disabled.
func NewHandler(session Session, board *sink.Board, redis *redis.Client, version string) *Handler {
	return &Handler{
		session:   session,
		board:     board,
		redis:     redis,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)

	api := e.Group("/api/v1")
	api.GET("/status", h.Status)
	api.GET("/captions", h.Captions)
	api.GET("/captions/latest", h.LatestCaption)
	api.DELETE("/captions", h.ClearCaptions)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	components := map[string]ComponentStatus{
		"connection": h.checkConnection(),
	}
	if h.redis != nil {
		components["redis"] = h.checkRedis(ctx)
	}

	overall := computeOverallStatus(components)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Requests:      atomic.LoadUint64(&h.totalRequests),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: mem.Alloc / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Components: components,
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (h *Handler) Status(c echo.Context) error {
	resp := StatusResponse{
		SessionID:  h.session.ID(),
		Room:       h.session.Room(),
		Connection: h.session.State().String(),
		Board:      h.board.Snapshot(),
	}
	if err := h.session.Err(); err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Captions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCaptionLimit {
			return shared.NewAPIError("invalid_limit", "limit must be between 1 and 1000").
				WithDetails(map[string]int{"min": 1, "max": maxCaptionLimit}).
				ToHTTP(http.StatusBadRequest)
		}
		limit = n
	}

	all := h.session.History()
	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return c.JSON(http.StatusOK, CaptionsResponse{
		Total:    len(all),
		Captions: all,
	})
}

func (h *Handler) LatestCaption(c echo.Context) error {
	all := h.session.History()
	if len(all) == 0 {
		return shared.NotFound("no_captions", "No captions received yet")
	}
	return c.JSON(http.StatusOK, all[len(all)-1])
}

func (h *Handler) ClearCaptions(c echo.Context) error {
	h.session.ClearHistory()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) checkConnection() ComponentStatus {
	if h.session.Err() != nil {
		return ComponentStatus{Status: StatusUnhealthy, Error: h.session.Err().Error()}
	}
	switch h.session.State() {
	case connection.StateOpen:
		return ComponentStatus{Status: StatusHealthy}
	case connection.StateConnecting:
		return ComponentStatus{Status: StatusDegraded, Error: "reconnecting"}
	default:
		return ComponentStatus{Status: StatusDegraded, Error: "not connected"}
	}
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}
	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func computeOverallStatus(components map[string]ComponentStatus) Status {
	if conn, ok := components["connection"]; ok && conn.Status == StatusUnhealthy {
		return StatusUnhealthy
	}
	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
