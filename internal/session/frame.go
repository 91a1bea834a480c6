// ABOUTME: Frames delivered to peers: commands for agents, events and rosters for controllers.
// ABOUTME: Payloads stay opaque JSON so the hub never interprets what it relays.

package session

import (
	"encoding/json"
	"time"
)

// Command is an instruction addressed to one agent session.
// For pull sessions it waits in the session's Queue; for push sessions it is
// written immediately and not kept.
type Command struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Event is a result or unsolicited notification produced by a session.
// Events are fanned out as they arrive and never stored.
type Event struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FrameType discriminates the contents of a Frame.
type FrameType int

const (
	FrameCommand FrameType = iota + 1
	FrameEvent
	FrameRoster
)

// String returns the wire name of the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameCommand:
		return "command"
	case FrameEvent:
		return "event"
	case FrameRoster:
		return "roster"
	default:
		return "unknown"
	}
}

// Frame is one outbound unit for a peer. Exactly one of the payload fields is set,
// matching Type.
type Frame struct {
	Type    FrameType
	Command *Command
	Event   *Event
	Roster  []Info
}

// CommandFrame wraps a command.
func CommandFrame(cmd *Command) Frame {
	return Frame{Type: FrameCommand, Command: cmd}
}

// EventFrame wraps an event.
func EventFrame(evt *Event) Frame {
	return Frame{Type: FrameEvent, Event: evt}
}

// RosterFrame wraps a roster snapshot.
func RosterFrame(roster []Info) Frame {
	return Frame{Type: FrameRoster, Roster: roster}
}
