// Package auth gates controller access to the relay hub.
//
// # Tokens
//
// Operators log in with a username and password checked against bcrypt hashes
// from the configuration. A successful login returns an HS256 JWT signed with
// auth.jwt_secret; the token's subject is the username.
//
// # Middleware
//
// RequireHTTP rejects requests without a valid bearer token. OptionalHTTP and
// StreamInterceptor attach an Identity when a valid token is present and let
// anonymous requests through, so agents can connect without credentials while
// handlers decide whether a controller registration needs one.
//
// When no secret is configured the gateway does not install any of these and
// the hub is open.
package auth
