// Package relay moves commands from controllers to agents and events from
// agents back to controllers.
//
// # Components
//
//   - Router dispatches a command to one agent session, writing it to a push
//     connection or queueing it for the agent's next poll.
//   - FanOut forwards agent events to every push controller and keeps their
//     roster current with a debounced broadcast.
//   - Sweeper evicts sessions whose last inbound message is older than the
//     liveness timeout.
//   - Hub owns all of the above plus the session registry, and exposes the
//     operations the gateway's transports call.
//
// None of these hold session state of their own. Every lookup goes through the
// session.Registry so nothing diverges after a concurrent disconnect.
package relay
