// ABOUTME: Hub facade owning the registry, router, fan-out, sweeper and dedupe cache.
// ABOUTME: Exposes register, heartbeat, dispatch, poll, submit and roster to the transports.

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-hub/internal/dedupe"
	"github.com/2389/relay-hub/internal/session"
)

const (
	// DefaultDedupeTTL is how long a submitted event id is remembered per source.
	DefaultDedupeTTL = 5 * time.Minute

	dedupeMaxEntries = 10000
)

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	QueueCapacity   int
	RosterDebounce  time.Duration
	DedupeTTL       time.Duration

	// Now overrides the clock of the registry, for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Hub is the relay core. Construct one per process with NewHub, call Start to
// run its background loops and Close on shutdown.
type Hub struct {
	registry *session.Registry
	router   *Router
	fanout   *FanOut
	sweeper  *Sweeper
	dedupe   *dedupe.Cache
	now      func() time.Time
	logger   *slog.Logger

	deduplicated atomic.Uint64

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewHub wires the relay components together.
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}

	registry := session.NewRegistry(session.Options{
		LivenessTimeout: opts.LivenessTimeout,
		QueueCapacity:   opts.QueueCapacity,
		Now:             opts.Now,
		Logger:          opts.Logger.With("component", "registry"),
	})
	fanout := NewFanOut(registry, opts.RosterDebounce, opts.Logger)
	registry.SetOnChange(fanout.NotifyRosterChanged)

	router := NewRouter(registry, opts.Logger)
	router.now = opts.Now

	return &Hub{
		registry: registry,
		router:   router,
		fanout:   fanout,
		sweeper:  NewSweeper(registry, fanout, opts.SweepInterval, opts.Logger),
		dedupe:   dedupe.New(opts.DedupeTTL, dedupeMaxEntries),
		now:      opts.Now,
		logger:   opts.Logger.With("component", "hub"),
	}
}

// Start launches the roster broadcaster and the liveness sweeper. They stop
// when ctx is done or Close is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.fanout.Run(ctx)
	}()
	go func() {
		defer h.wg.Done()
		h.sweeper.Run(ctx)
	}()
	h.logger.Info("relay hub started",
		"liveness_timeout", h.registry.LivenessTimeout(),
		"sweep_interval", h.sweeper.interval,
	)
}

// Close stops the background loops, drops every session and closes every push
// connection. Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.cancel != nil {
			h.cancel()
		}
		h.mu.Unlock()
		h.wg.Wait()

		h.registry.Close()
		h.dedupe.Close()
		h.logger.Info("relay hub stopped")
	})
}

// Register adds or replaces a session. Registering an id that is already
// present replaces the previous session; it is not an error.
func (h *Hub) Register(reg session.Registration) (session.Handle, error) {
	return h.registry.Register(reg)
}

// Heartbeat refreshes a session's liveness. Unknown ids are ignored and
// reported as false.
func (h *Hub) Heartbeat(id string) bool {
	return h.registry.Touch(id)
}

// Leave removes a session. Removing an absent session is a no-op.
func (h *Hub) Leave(id string) bool {
	return h.registry.Remove(id)
}

// LeaveIf removes a session only if guard accepts its current role.
func (h *Hub) LeaveIf(id string, guard session.Guard) (bool, error) {
	return h.registry.RemoveIf(id, guard)
}

// Dispatch sends a command to an agent.
func (h *Hub) Dispatch(targetID, kind string, payload json.RawMessage) (Receipt, error) {
	return h.router.Dispatch(targetID, kind, payload)
}

// Poll returns and clears the pending commands of a pull session.
func (h *Hub) Poll(id string) ([]session.Command, error) {
	return h.router.Drain(id)
}

// Submission is a result or event reported by a session.
type Submission struct {
	Source string
	// EventID lets a retrying submitter avoid duplicate fan-out. Empty ids are
	// never deduplicated.
	EventID string
	Kind    string
	Payload json.RawMessage
}

// Submit forwards an event to the controllers. It never fails from the
// submitter's point of view: an unknown source is still forwarded and a
// repeated event id is silently absorbed. The returned event is nil when the
// submission was a duplicate.
func (h *Hub) Submit(sub Submission) *session.Event {
	h.registry.Touch(sub.Source)

	if sub.EventID != "" && h.dedupe.Seen(sub.Source, sub.EventID) {
		h.deduplicated.Add(1)
		h.logger.Debug("duplicate event ignored", "source", sub.Source, "event_id", sub.EventID)
		return nil
	}

	id := sub.EventID
	if id == "" {
		id = uuid.NewString()
	}
	evt := &session.Event{
		ID:        id,
		Source:    sub.Source,
		Kind:      sub.Kind,
		Payload:   sub.Payload,
		Timestamp: h.now(),
	}
	h.fanout.Forward(evt)
	return evt
}

// Roster returns every session with its derived online status, in
// registration order.
func (h *Hub) Roster() []session.Info {
	return h.registry.Snapshot()
}

// Lookup returns one session.
func (h *Hub) Lookup(id string) (session.Info, bool) {
	return h.registry.Lookup(id)
}

// Sweep runs one liveness sweep immediately.
func (h *Hub) Sweep() []string {
	return h.sweeper.Sweep()
}

// Stats is a point-in-time summary of hub activity.
type Stats struct {
	Sessions           int    `json:"sessions"`
	Agents             int    `json:"agents"`
	Controllers        int    `json:"controllers"`
	CommandsPushed     uint64 `json:"commands_pushed"`
	CommandsQueued     uint64 `json:"commands_queued"`
	CommandsFailed     uint64 `json:"commands_failed"`
	CommandsDropped    uint64 `json:"commands_dropped"`
	EventsForwarded    uint64 `json:"events_forwarded"`
	EventsDeduplicated uint64 `json:"events_deduplicated"`
	RosterBroadcasts   uint64 `json:"roster_broadcasts"`
	Evictions          uint64 `json:"evictions"`
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	c := h.registry.Counts()
	return Stats{
		Sessions:           c.Sessions,
		Agents:             c.Agents,
		Controllers:        c.Controllers,
		CommandsPushed:     h.router.pushed.Load(),
		CommandsQueued:     h.router.queued.Load(),
		CommandsFailed:     h.router.failed.Load(),
		CommandsDropped:    c.Dropped,
		EventsForwarded:    h.fanout.forwarded.Load(),
		EventsDeduplicated: h.deduplicated.Load(),
		RosterBroadcasts:   h.fanout.broadcasts.Load(),
		Evictions:          h.sweeper.evicted.Load(),
	}
}
