// Package reconnect maps reconnect attempt counts to delays and give-up
// decisions. Policies are pure and safe for concurrent use.
package reconnect

import (
	"math"
	"time"

	"github.com/eleven-am/live-captions/internal/shared"
)

type Policy interface {
	// Delay returns the wait before the reconnect made when the counter
	// equals attempt (0 for the first reconnect after a drop).
	Delay(attempt int) time.Duration
	// GiveUp reports whether no further reconnect may be scheduled.
	GiveUp(attempt int) bool
	MaxAttempts() int
}

// Linear waits Base*attempt. Used by the broadcaster, which must come
// back quickly.
type Linear struct {
	Base     time.Duration
	Attempts int
}

func (p Linear) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Base <= 0 {
		return 0
	}
	return p.Base * time.Duration(attempt)
}

func (p Linear) GiveUp(attempt int) bool {
	return attempt >= p.Attempts
}

func (p Linear) MaxAttempts() int {
	return p.Attempts
}

// Exponential waits min(Base*Growth^attempt, Cap).
type Exponential struct {
	Base     time.Duration
	Growth   float64
	Cap      time.Duration
	Attempts int
}

func (p Exponential) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	growth := p.Growth
	if growth < 1.0 {
		growth = 1.0
	}
	delay := float64(p.Base) * math.Pow(growth, float64(attempt))
	if p.Cap > 0 && delay > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}

func (p Exponential) GiveUp(attempt int) bool {
	return attempt >= p.Attempts
}

func (p Exponential) MaxAttempts() int {
	return p.Attempts
}

// Immediate reconnects without waiting. Tests use it to drive the
// reconnect path deterministically.
type Immediate struct {
	Attempts int
}

func (p Immediate) Delay(int) time.Duration {
	return 0
}

func (p Immediate) GiveUp(attempt int) bool {
	return attempt >= p.Attempts
}

func (p Immediate) MaxAttempts() int {
	return p.Attempts
}

func DefaultBackoff(role shared.Role) shared.BackoffConfig {
	if role == shared.RoleBroadcaster {
		return shared.BackoffConfig{
			Kind:        shared.BackoffLinear,
			Initial:     time.Second,
			MaxAttempts: 5,
		}
	}
	return shared.BackoffConfig{
		Kind:        shared.BackoffExponential,
		Initial:     time.Second,
		Growth:      1.5,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Normalize fills zero or negative fields of cfg from the role default.
func Normalize(cfg shared.BackoffConfig, role shared.Role) shared.BackoffConfig {
	def := DefaultBackoff(role)
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Kind == shared.BackoffExponential {
		if cfg.Growth < 1.0 {
			cfg.Growth = 1.5
		}
		if cfg.MaxDelay <= 0 {
			cfg.MaxDelay = 30 * time.Second
		}
	}
	return cfg
}

func FromConfig(cfg shared.BackoffConfig, role shared.Role) Policy {
	cfg = Normalize(cfg, role)
	if cfg.Kind == shared.BackoffLinear {
		return Linear{Base: cfg.Initial, Attempts: cfg.MaxAttempts}
	}
	return Exponential{
		Base:     cfg.Initial,
		Growth:   cfg.Growth,
		Cap:      cfg.MaxDelay,
		Attempts: cfg.MaxAttempts,
	}
}
