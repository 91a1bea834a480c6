// Package gateway exposes the relay hub over the network.
//
// # Servers
//
//   - gRPC: the relayhub.v1.Relay/Connect bidirectional stream for push peers.
//   - HTTP: the pull transport for agents, controller endpoints, login and
//     health checks, plus WebSocket push peers at /ws.
//
// Both push transports share one peer loop: the first message must register
// the session, the hub's welcome follows, and from then on every inbound
// message refreshes liveness. Outbound frames go through a bounded outbox
// drained by a single writer goroutine, so the registry never blocks on a slow
// peer. Malformed input is answered with an error message and the connection
// stays open.
//
// # HTTP API
//
//	POST   /api/sessions                  register a pull session
//	POST   /api/sessions/{id}/heartbeat   refresh liveness
//	GET    /api/sessions/{id}/commands    drain pending commands
//	POST   /api/sessions/{id}/events      submit a result or event
//	DELETE /api/sessions/{id}             leave
//	GET    /api/roster                    sessions with online status   (controller)
//	GET    /api/sessions/{id}             one session                   (controller)
//	POST   /api/sessions/{id}/dispatch    send a command to an agent    (controller)
//	GET    /api/stats                     hub counters                  (controller)
//	POST   /api/login                     exchange credentials for a token
//	GET    /health, /health/ready
//
// Controller endpoints and controller registrations require a bearer token
// when auth.jwt_secret is configured.
//
// # Listeners
//
// TCP on server.grpc_addr and server.http_addr, or a Tailscale node (tsnet)
// when tailscale.enabled is set, optionally exposing HTTP publicly via Funnel.
package gateway
