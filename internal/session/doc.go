// Package session owns the set of connected peers.
//
// # Overview
//
// Every peer that connects to the hub, whether it is an agent being controlled
// or a controller issuing commands, is represented by exactly one session in the
// Registry. The Registry is the only owner of session state: other components
// read Info snapshots and deliver frames through Registry methods, never through
// their own copies.
//
// # Roles
//
// A session is either an agent or a controller. The role is fixed when the
// session registers:
//
//   - RoleAgent: receives commands, reports results and events
//   - RoleController: issues commands, receives events and roster updates
//
// # Transports
//
// A session is reachable in one of two ways:
//
//   - Push: the hub holds a live Sink (gRPC stream or WebSocket) and writes to it
//   - Pull: the hub holds a Queue the peer drains with its next poll
//
// Send is the single delivery function; it switches on the transport type so no
// caller has to check the mode itself.
//
// # Replacement
//
// Registering an id that is already present replaces the old session. The old
// push transport is invalidated before the new session becomes visible, and any
// Handle from the old registration turns into a no-op. This lets a reconnecting
// agent take over its id while the dying connection winds down.
//
// # Liveness
//
// Each inbound message refreshes LastHeartbeat. A session is Online while
// now - LastHeartbeat < LivenessTimeout. Stale and RemoveStale let a sweeper
// enumerate expired sessions under the read lock and evict them afterwards.
//
// # Thread Safety
//
// Registry guards its map with a single RWMutex. Queues and push transports have
// their own locks, always taken after the registry lock.
package session
