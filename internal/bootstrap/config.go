package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/live-captions/internal/shared"
)

type Config struct {
	Role      shared.Role
	ServerURL string
	Room      string

	InputPath     string
	InputRealtime bool
	Device        string
	InputRate     int
	InputChannels int
	ChunkDuration time.Duration
	ChunkBuffer   int
	Encoding      string

	PingInterval time.Duration
	PongTimeout  time.Duration
	HistorySize  int

	Backoff shared.BackoffConfig

	StatusAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Role:      shared.Role(strings.ToLower(getEnv("CAPTION_ROLE", string(shared.RoleViewer)))),
		ServerURL: getEnv("CAPTION_SERVER_URL", "ws://localhost:8000/ws"),
		Room:      getEnv("CAPTION_ROOM", ""),

		InputPath:     getEnv("CAPTION_INPUT", "-"),
		InputRealtime: getEnv("CAPTION_INPUT_REALTIME", "false") == "true",
		Device:        getEnv("CAPTION_DEVICE", ""),
		InputRate:     getEnvInt("CAPTION_INPUT_RATE", 48000),
		InputChannels: getEnvInt("CAPTION_INPUT_CHANNELS", 1),
		ChunkDuration: time.Duration(getEnvInt("CAPTION_CHUNK_MS", 2000)) * time.Millisecond,
		ChunkBuffer:   getEnvInt("CAPTION_CHUNK_BUFFER", 0),
		Encoding:      getEnv("CAPTION_ENCODING", "pcm16"),

		PingInterval: getEnvDuration("CAPTION_PING_INTERVAL", 30*time.Second),
		PongTimeout:  getEnvDuration("CAPTION_PONG_TIMEOUT", 10*time.Second),
		HistorySize:  getEnvInt("CAPTION_HISTORY_SIZE", 100),

		Backoff: shared.BackoffConfig{
			Kind:        shared.BackoffKind(strings.ToLower(getEnv("CAPTION_RECONNECT_KIND", ""))),
			Initial:     getEnvDuration("CAPTION_RECONNECT_INITIAL", 0),
			Growth:      getEnvFloat("CAPTION_RECONNECT_GROWTH", 0),
			MaxDelay:    getEnvDuration("CAPTION_RECONNECT_MAX_DELAY", 0),
			MaxAttempts: getEnvInt("CAPTION_RECONNECT_MAX_ATTEMPTS", 0),
		},

		StatusAddr: os.Getenv("STATUS_ADDR"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if _, set := os.LookupEnv("STATUS_ADDR"); !set {
		cfg.StatusAddr = "127.0.0.1:8090"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !c.Role.Valid() {
		return fmt.Errorf("CAPTION_ROLE must be %q or %q, got %q", shared.RoleViewer, shared.RoleBroadcaster, c.Role)
	}
	if c.Room == "" {
		return fmt.Errorf("CAPTION_ROOM is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("CAPTION_SERVER_URL is required")
	}
	switch c.Backoff.Kind {
	case "", shared.BackoffLinear, shared.BackoffExponential:
	default:
		return fmt.Errorf("CAPTION_RECONNECT_KIND must be %q or %q, got %q", shared.BackoffLinear, shared.BackoffExponential, c.Backoff.Kind)
	}
	if c.InputRate <= 0 || c.InputChannels <= 0 {
		return fmt.Errorf("input format must be positive, got %d Hz x %d", c.InputRate, c.InputChannels)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
