// ABOUTME: Envelope type for every message exchanged with push peers, with validation.
// ABOUTME: Converts outbound session frames into envelopes.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/relay-hub/internal/session"
)

// ErrMalformed indicates an inbound message that could not be decoded or is
// missing required fields. The peer gets an error message and stays connected.
var ErrMalformed = errors.New("malformed message")

// Message types.
const (
	TypeRegister       = "register"
	TypeWelcome        = "welcome"
	TypeHeartbeat      = "heartbeat"
	TypeCommand        = "command"
	TypeDispatch       = "dispatch"
	TypeDispatchResult = "dispatch_result"
	TypeEvent          = "event"
	TypeRoster         = "roster"
	TypeError          = "error"
)

// Message is the envelope. Which fields are set depends on Type.
type Message struct {
	Type string `json:"type"`

	// register, welcome
	SessionID string         `json:"session_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Name      string         `json:"name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`

	// dispatch, dispatch_result
	Target    string          `json:"target,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	CommandID string          `json:"command_id,omitempty"`
	Queued    bool            `json:"queued,omitempty"`

	Command *session.Command `json:"command,omitempty"`
	Event   *session.Event   `json:"event,omitempty"`
	Roster  []session.Info   `json:"roster,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Decode parses and validates one inbound message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Encode renders a message as JSON.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Validate checks the fields an inbound message of its type needs.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if _, err := session.ParseRole(m.Role); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	case TypeHeartbeat:
	case TypeDispatch:
		if m.Target == "" || m.Kind == "" {
			return fmt.Errorf("%w: dispatch needs target and kind", ErrMalformed)
		}
	case TypeEvent:
		if m.Event == nil || m.Event.Kind == "" {
			return fmt.Errorf("%w: event needs a kind", ErrMalformed)
		}
	case TypeWelcome, TypeCommand, TypeDispatchResult, TypeRoster, TypeError:
		// Outbound types; peers may echo them but the hub never acts on them.
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrMalformed)
	}
	return nil
}

// SessionRole returns the parsed role of a register message.
func (m *Message) SessionRole() (session.Role, error) {
	return session.ParseRole(m.Role)
}

// FromFrame converts an outbound session frame into an envelope.
func FromFrame(f session.Frame) *Message {
	switch f.Type {
	case session.FrameCommand:
		return &Message{Type: TypeCommand, Command: f.Command}
	case session.FrameEvent:
		return &Message{Type: TypeEvent, Event: f.Event}
	case session.FrameRoster:
		return &Message{Type: TypeRoster, Roster: f.Roster}
	default:
		return &Message{Type: TypeError, Error: "unknown frame"}
	}
}

// Errorf builds an error message for a peer.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}
