// ABOUTME: Error values returned by relay operations.
// ABOUTME: Transports map these onto gRPC status codes and HTTP statuses.

package relay

import "errors"

var (
	// ErrNotFound indicates the target session is absent or cannot receive commands.
	ErrNotFound = errors.New("session not found")

	// ErrUnreachable indicates the target session is known but its push
	// connection refused the write. The session is left for the sweeper or its
	// own disconnect to remove.
	ErrUnreachable = errors.New("session unreachable")

	// ErrInvalidCommand indicates a dispatch without a command kind.
	ErrInvalidCommand = errors.New("command kind is required")
)
