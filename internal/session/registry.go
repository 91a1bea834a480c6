// ABOUTME: Concurrent registry of sessions keyed by id, with replace-on-register semantics.
// ABOUTME: Owns every session, its transport and its pull queue; notifies on roster changes.

package session

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no session is registered under the id.
var ErrNotFound = errors.New("session not found")

// ErrRoleMismatch indicates the session exists but has a different role than required.
var ErrRoleMismatch = errors.New("session has a different role")

// ErrNotPull indicates a poll against a session that is reached by push.
var ErrNotPull = errors.New("session does not use pull transport")

// DefaultLivenessTimeout is used when Options.LivenessTimeout is zero.
const DefaultLivenessTimeout = 120 * time.Second

// Options configures a Registry.
type Options struct {
	// LivenessTimeout is the maximum gap since the last inbound message before a
	// session counts as offline and becomes eligible for eviction.
	LivenessTimeout time.Duration

	// QueueCapacity bounds each pull session's command queue.
	QueueCapacity int

	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger *slog.Logger
}

// Registry maps session ids to sessions. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	generation uint64
	onChange   func()

	timeout       time.Duration
	queueCapacity int
	now           func() time.Time
	logger        *slog.Logger

	dropped atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = DefaultLivenessTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		sessions:      make(map[string]*session),
		timeout:       opts.LivenessTimeout,
		queueCapacity: opts.QueueCapacity,
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// SetOnChange installs the callback invoked after every roster change
// (registration or removal). It runs outside the registry lock.
func (r *Registry) SetOnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// LivenessTimeout returns the configured timeout.
func (r *Registry) LivenessTimeout() time.Duration {
	return r.timeout
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

// Register inserts a session, replacing any session already registered under
// the same id. A replaced push transport is invalidated before the new session
// is installed. Pending commands of a replaced pull session carry over to a
// pull replacement and are flushed to a push replacement.
func (r *Registry) Register(reg Registration) (Handle, error) {
	switch reg.Role {
	case RoleAgent, RoleController:
	default:
		return Handle{}, fmt.Errorf("%w: %d", ErrInvalidRole, reg.Role)
	}

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	now := r.now()
	s := &session{
		id:            reg.ID,
		role:          reg.Role,
		name:          reg.Name,
		metadata:      maps.Clone(reg.Metadata),
		connectedAt:   now,
		lastHeartbeat: now,
	}

	r.mu.Lock()
	prev, replaced := r.sessions[reg.ID]
	if replaced && reg.Guard != nil {
		if err := reg.Guard(prev.role); err != nil {
			r.mu.Unlock()
			return Handle{}, err
		}
	}
	var carried []Command
	if replaced {
		switch t := prev.transport.(type) {
		case *PushTransport:
			t.Invalidate()
		case *PullTransport:
			if reg.Mode() == ModePull {
				s.transport = t
			} else {
				carried = t.queue.Drain()
			}
		}
	}
	if s.transport == nil {
		s.transport = r.newTransport(reg)
	}
	r.generation++
	s.generation = r.generation
	r.sessions[reg.ID] = s

	// Flushed under the lock so a concurrent dispatch cannot overtake older commands.
	var flushFailed int
	for i := range carried {
		if err := Send(s.transport, CommandFrame(&carried[i])); err != nil {
			flushFailed++
		}
	}
	r.dropped.Add(uint64(flushFailed))
	total := len(r.sessions)
	r.mu.Unlock()

	if flushFailed > 0 {
		r.logger.Warn("dropped queued commands that did not fit the new push connection",
			"session_id", reg.ID,
			"failed", flushFailed,
			"queued", len(carried),
		)
	}

	r.logger.Info("session registered",
		"session_id", reg.ID,
		"role", reg.Role,
		"transport", s.transport.Mode(),
		"name", reg.Name,
		"replaced", replaced,
		"total_sessions", total,
	)

	r.notify()
	return Handle{ID: reg.ID, generation: s.generation, registry: r}, nil
}

func (r *Registry) newTransport(reg Registration) Transport {
	if reg.Sink != nil {
		return NewPushTransport(reg.Sink)
	}
	id := reg.ID
	return NewPullTransport(NewQueue(r.queueCapacity, func(cmd Command) {
		r.dropped.Add(1)
		r.logger.Warn("pull queue full, dropped oldest command",
			"session_id", id,
			"command_id", cmd.ID,
			"kind", cmd.Kind,
		)
	}))
}

// Touch refreshes the session's liveness. Unknown ids are ignored so a late
// heartbeat from an evicted session neither resurrects it nor fails.
func (r *Registry) Touch(id string) bool {
	return r.touchGeneration(id, 0)
}

func (r *Registry) touchGeneration(id string, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || (generation != 0 && s.generation != generation) {
		return false
	}
	s.lastHeartbeat = r.now()
	return true
}

func (r *Registry) isCurrent(id string, generation uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return ok && s.generation == generation
}

// Lookup returns a snapshot of the session. The session may disappear right after.
func (r *Registry) Lookup(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return s.info(r.now(), r.timeout), true
}

// Remove deletes the session and its queue. Removing an absent id is a no-op;
// the roster change callback only fires when something was removed.
func (r *Registry) Remove(id string) bool {
	removed, _ := r.removeGeneration(id, 0, nil, true)
	return removed
}

// RemoveIf is Remove with a guard checked under the lock against the
// session's role. A guard error leaves the session in place and is returned.
func (r *Registry) RemoveIf(id string, guard Guard) (bool, error) {
	return r.removeGeneration(id, 0, guard, true)
}

func (r *Registry) removeGeneration(id string, generation uint64, guard Guard, notify bool) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || (generation != 0 && s.generation != generation) {
		r.mu.Unlock()
		return false, nil
	}
	if guard != nil {
		if err := guard(s.role); err != nil {
			r.mu.Unlock()
			return false, err
		}
	}
	r.removeLocked(s)
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session removed",
		"session_id", id,
		"role", s.role,
		"total_sessions", total,
	)

	if notify {
		r.notify()
	}
	return true, nil
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(s *session) {
	delete(r.sessions, s.id)
	if push, ok := s.transport.(*PushTransport); ok {
		push.Invalidate()
	}
}

// Snapshot returns every session in registration order.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	now := r.now()
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	infos := make([]Info, 0, len(list))
	slices.SortFunc(list, func(a, b *session) int {
		return cmp.Compare(a.generation, b.generation)
	})
	for _, s := range list {
		infos = append(infos, s.info(now, r.timeout))
	}
	r.mu.RUnlock()
	return infos
}

// Deliver sends a frame to the session with the given id, which must have the
// given role. The transport is resolved and written under the registry read
// lock, so the delivery cannot race a concurrent removal of the session.
func (r *Registry) Deliver(id string, role Role, frame Frame) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.role != role {
		return 0, fmt.Errorf("%w: %s is a %s", ErrRoleMismatch, id, s.role)
	}
	mode := s.transport.Mode()
	return mode, Send(s.transport, frame)
}

// DeliveryFailure records one recipient that could not be reached by Broadcast.
type DeliveryFailure struct {
	SessionID string
	Err       error
}

// Broadcast delivers a frame to every push session with the given role.
// A failing recipient does not stop delivery to the others.
func (r *Registry) Broadcast(role Role, frame Frame) (delivered int, failures []DeliveryFailure) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.sessions {
		if s.role != role {
			continue
		}
		push, ok := s.transport.(*PushTransport)
		if !ok {
			continue
		}
		if err := Send(push, frame); err != nil {
			failures = append(failures, DeliveryFailure{SessionID: id, Err: err})
			continue
		}
		delivered++
	}
	return delivered, failures
}

// Drain returns and clears the pending commands of a pull session.
func (r *Registry) Drain(id string) ([]Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	pull, ok := s.transport.(*PullTransport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPull, id)
	}
	return pull.queue.Drain(), nil
}

// Stale returns handles for every session whose last heartbeat is at least
// LivenessTimeout old. Only the read lock is held while enumerating.
func (r *Registry) Stale() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var stale []Handle
	for id, s := range r.sessions {
		if now.Sub(s.lastHeartbeat) >= r.timeout {
			stale = append(stale, Handle{ID: id, generation: s.generation, registry: r})
		}
	}
	return stale
}

// RemoveStale evicts the session behind h if it is still the same registration
// and still past its timeout. It does not fire the roster change callback, so a
// sweeper can notify once per batch.
func (r *Registry) RemoveStale(h Handle) bool {
	r.mu.Lock()
	s, ok := r.sessions[h.ID]
	if !ok || s.generation != h.generation || r.now().Sub(s.lastHeartbeat) < r.timeout {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(s)
	r.mu.Unlock()
	return true
}

// Counts summarises the registry by role.
type Counts struct {
	Sessions    int
	Agents      int
	Controllers int
	Dropped     uint64
}

// Counts returns the number of sessions per role and the commands dropped on overflow.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := Counts{Sessions: len(r.sessions), Dropped: r.dropped.Load()}
	for _, s := range r.sessions {
		switch s.role {
		case RoleAgent:
			c.Agents++
		case RoleController:
			c.Controllers++
		}
	}
	return c
}

// Close removes every session and invalidates their push transports.
// It does not fire the roster change callback.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		r.removeLocked(s)
	}
}
