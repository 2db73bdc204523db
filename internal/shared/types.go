package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffConfig describes a reconnect schedule. Zero values are replaced
// with role defaults by the consumer.
type BackoffConfig struct {
	Kind        BackoffKind
	Initial     time.Duration
	Growth      float64
	MaxDelay    time.Duration
	MaxAttempts int
}
