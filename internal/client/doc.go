// Package client is a typed HTTP client for the relay hub's API.
//
// # Overview
//
// The client covers both sides of the HTTP surface:
//
//   - Controller calls: Roster, Session, Dispatch, Stats, Login
//   - Pull agent calls: Register, Heartbeat, Poll, Submit, Leave
//   - Health and Ready for liveness and readiness checks
//
// Non-2xx responses are returned as *APIError carrying the status code and the
// server's error message.
//
// # Usage
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//	roster, err := c.Roster(ctx)
package client
