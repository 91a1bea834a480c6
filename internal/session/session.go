// ABOUTME: Session data model: roles, transport modes, registrations and snapshots.
// ABOUTME: Sessions live inside the Registry; callers only ever see Info copies.

package session

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrInvalidRole indicates a role string that is neither agent nor controller.
var ErrInvalidRole = errors.New("invalid role")

// ErrInvalidMode indicates a transport mode string that is neither push nor pull.
var ErrInvalidMode = errors.New("invalid transport mode")

// Role identifies what a peer does on the hub. It never changes after registration.
type Role int

const (
	RoleAgent Role = iota + 1
	RoleController
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleController:
		return "controller"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "agent":
		return RoleAgent, nil
	case "controller":
		return RoleController, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Mode is how the hub reaches a session.
type Mode int

const (
	ModePush Mode = iota + 1
	ModePull
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	default:
		return "unknown"
	}
}

// ParseMode converts a wire name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "push":
		return ModePush, nil
	case "pull":
		return ModePull, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Registration carries everything a peer supplies when it connects.
type Registration struct {
	ID       string // optional; generated when empty
	Role     Role
	Name     string
	Metadata map[string]any // free-form: os info, capabilities, hostname

	// Sink is required for push sessions and must be nil for pull sessions.
	Sink Sink

	// Guard, when set, is called under the registry lock with the role of the
	// session about to be replaced. A non-nil error aborts the registration and
	// is returned by Register.
	Guard Guard
}

// Guard vets an operation against the role of the session it would displace.
type Guard func(current Role) error

// Mode reports the transport mode implied by the registration.
func (r Registration) Mode() Mode {
	if r.Sink != nil {
		return ModePush
	}
	return ModePull
}

// session is the registry-owned record for one connected peer.
type session struct {
	id          string
	role        Role
	name        string
	metadata    map[string]any
	transport   Transport
	connectedAt time.Time
	generation  uint64

	// guarded by Registry.mu
	lastHeartbeat time.Time
}

// Info is a point-in-time copy of a session, safe to hold after the session is gone.
type Info struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Name          string         `json:"name"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Mode          Mode           `json:"transport"`
	ConnectedAt   time.Time      `json:"connected_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Online        bool           `json:"online"`
	Pending       int            `json:"pending_commands"`
}

func (s *session) info(now time.Time, timeout time.Duration) Info {
	info := Info{
		ID:            s.id,
		Role:          s.role,
		Name:          s.name,
		Metadata:      maps.Clone(s.metadata),
		Mode:          s.transport.Mode(),
		ConnectedAt:   s.connectedAt,
		LastHeartbeat: s.lastHeartbeat,
		Online:        now.Sub(s.lastHeartbeat) < timeout,
	}
	if pull, ok := s.transport.(*PullTransport); ok {
		info.Pending = pull.queue.Len()
	}
	return info
}

// Handle identifies one particular registration of a session id.
// Operations through a Handle become no-ops once the id is re-registered.
type Handle struct {
	ID         string
	generation uint64
	registry   *Registry
}

// Touch refreshes liveness if this registration is still current.
func (h Handle) Touch() bool {
	if h.registry == nil {
		return false
	}
	return h.registry.touchGeneration(h.ID, h.generation)
}

// Close removes the session if this registration is still current.
// A connection that was replaced by a newer registration leaves the new one alone.
func (h Handle) Close() bool {
	if h.registry == nil {
		return false
	}
	removed, _ := h.registry.removeGeneration(h.ID, h.generation, nil, true)
	return removed
}

// Current reports whether this registration is still the live one for its id.
func (h Handle) Current() bool {
	if h.registry == nil {
		return false
	}
	return h.registry.isCurrent(h.ID, h.generation)
}
