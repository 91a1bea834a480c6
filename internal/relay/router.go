// ABOUTME: Command router: resolves a target agent and delivers by push or queues for pull.
// ABOUTME: Also drains pull queues on poll, counting the poll as liveness.

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-hub/internal/session"
)

// Receipt describes an accepted command.
type Receipt struct {
	CommandID string `json:"command_id"`
	// Queued is true when the target polls for commands and has not received
	// this one yet.
	Queued bool `json:"queued"`
}

// Router delivers commands to agent sessions.
type Router struct {
	registry *session.Registry
	now      func() time.Time
	logger   *slog.Logger

	pushed atomic.Uint64
	queued atomic.Uint64
	failed atomic.Uint64
}

// NewRouter creates a Router over the registry.
func NewRouter(registry *session.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		now:      time.Now,
		logger:   logger.With("component", "router"),
	}
}

// Dispatch creates a command for the target agent and delivers it.
// Controllers are not eligible targets and report ErrNotFound.
// A push write failure reports ErrUnreachable without removing the session.
func (r *Router) Dispatch(targetID, kind string, payload json.RawMessage) (Receipt, error) {
	if kind == "" {
		return Receipt{}, ErrInvalidCommand
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Receipt{}, fmt.Errorf("generating command id: %w", err)
	}
	cmd := &session.Command{
		ID:         id.String(),
		Target:     targetID,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: r.now(),
	}

	mode, err := r.registry.Deliver(targetID, session.RoleAgent, session.CommandFrame(cmd))
	switch {
	case errors.Is(err, session.ErrNotFound):
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotFound, targetID)
	case errors.Is(err, session.ErrRoleMismatch):
		return Receipt{}, fmt.Errorf("%w: %s is not an agent", ErrNotFound, targetID)
	case err != nil:
		r.failed.Add(1)
		r.logger.Warn("command delivery failed",
			"session_id", targetID,
			"command_id", cmd.ID,
			"kind", kind,
			"error", err,
		)
		return Receipt{}, fmt.Errorf("%w: %s: %w", ErrUnreachable, targetID, err)
	}

	queued := mode == session.ModePull
	if queued {
		r.queued.Add(1)
	} else {
		r.pushed.Add(1)
	}
	r.logger.Debug("command dispatched",
		"session_id", targetID,
		"command_id", cmd.ID,
		"kind", kind,
		"queued", queued,
	)
	return Receipt{CommandID: cmd.ID, Queued: queued}, nil
}

// Drain returns the pending commands of a pull session in FIFO order and clears
// them. A command racing the drain lands either in this result or in the next
// one, never both.
func (r *Router) Drain(sessionID string) ([]session.Command, error) {
	cmds, err := r.registry.Drain(sessionID)
	if err != nil {
		return nil, err
	}
	r.registry.Touch(sessionID)
	return cmds, nil
}
