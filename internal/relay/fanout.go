// ABOUTME: Event fan-out to push controllers and debounced roster broadcasts.
// ABOUTME: A slow or closed controller never blocks delivery to the others.

package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/relay-hub/internal/session"
)

// DefaultRosterDebounce is how long roster changes are coalesced before a broadcast.
const DefaultRosterDebounce = 250 * time.Millisecond

// FanOut delivers agent events and roster snapshots to controllers.
type FanOut struct {
	registry *session.Registry
	debounce time.Duration
	logger   *slog.Logger

	// pending holds at most one roster-changed signal; further signals coalesce.
	pending chan struct{}

	forwarded  atomic.Uint64
	broadcasts atomic.Uint64
}

// NewFanOut creates a FanOut over the registry. A zero debounce uses
// DefaultRosterDebounce.
func NewFanOut(registry *session.Registry, debounce time.Duration, logger *slog.Logger) *FanOut {
	if debounce <= 0 {
		debounce = DefaultRosterDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{
		registry: registry,
		debounce: debounce,
		logger:   logger.With("component", "fanout"),
		pending:  make(chan struct{}, 1),
	}
}

// Forward delivers the event to every controller connected by push and returns
// how many received it. With no controllers it does nothing; events are not
// buffered for controllers that connect later.
func (f *FanOut) Forward(evt *session.Event) int {
	delivered, failures := f.registry.Broadcast(session.RoleController, session.EventFrame(evt))
	for _, fail := range failures {
		f.logger.Warn("event not delivered to controller",
			"session_id", fail.SessionID,
			"event_id", evt.ID,
			"error", fail.Err,
		)
	}
	f.forwarded.Add(1)
	f.logger.Debug("event forwarded",
		"source", evt.Source,
		"event_id", evt.ID,
		"kind", evt.Kind,
		"controllers", delivered,
	)
	return delivered
}

// NotifyRosterChanged schedules a roster broadcast. It never blocks.
func (f *FanOut) NotifyRosterChanged() {
	select {
	case f.pending <- struct{}{}:
	default:
	}
}

// BroadcastRoster sends the current snapshot to every push controller now.
func (f *FanOut) BroadcastRoster() int {
	roster := f.registry.Snapshot()
	delivered, failures := f.registry.Broadcast(session.RoleController, session.RosterFrame(roster))
	for _, fail := range failures {
		f.logger.Warn("roster not delivered to controller",
			"session_id", fail.SessionID,
			"error", fail.Err,
		)
	}
	f.broadcasts.Add(1)
	f.logger.Debug("roster broadcast", "sessions", len(roster), "controllers", delivered)
	return delivered
}

// Run broadcasts the roster after each burst of changes until ctx is done.
// The snapshot is taken after the debounce window closes, so the last change
// of a burst is always included.
func (f *FanOut) Run(ctx context.Context) {
	// fire is nil while no broadcast is scheduled.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.pending:
			if fire == nil {
				fire = time.After(f.debounce)
			}
		case <-fire:
			fire = nil
			f.BroadcastRoster()
		}
	}
}
