// ABOUTME: Transport-independent loop for a push peer (gRPC stream or WebSocket).
// ABOUTME: Registers the session, relays commands, events and dispatches, and cleans up on exit.

package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/relay"
	"github.com/2389/relay-hub/internal/session"
	"github.com/2389/relay-hub/internal/wire"
)

var (
	errNotRegistered   = errors.New("first message must be register")
	errUnauthenticated = errors.New("controllers must authenticate")
)

// peerConn is one push connection. Recv reports wire.ErrMalformed for input
// that could not be decoded; any other error ends the connection.
type peerConn interface {
	Recv() (*wire.Message, error)
	Send(*wire.Message) error
}

type inbound struct {
	msg *wire.Message
	err error
}

// controllerGuard protects controller sessions from anonymous callers: without
// an identity on ctx, a registration or leave that would displace a controller
// is refused. It returns nil when auth is disabled or the caller authenticated.
func (g *Gateway) controllerGuard(ctx context.Context) session.Guard {
	if g.verifier == nil || auth.FromContext(ctx) != nil {
		return nil
	}
	return func(current session.Role) error {
		if current == session.RoleController {
			return errUnauthenticated
		}
		return nil
	}
}

// servePeer runs a push connection until the peer leaves, the context ends or
// the session is replaced by a newer registration of the same id.
func (g *Gateway) servePeer(ctx context.Context, conn peerConn, remote string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := g.logger.With("remote", remote)

	reg, err := g.awaitRegister(ctx, conn, logger)
	if err != nil {
		return err
	}
	if reg.Role == session.RoleController && g.verifier != nil && auth.FromContext(ctx) == nil {
		logger.Warn("rejected unauthenticated controller", "session_id", reg.ID)
		return errUnauthenticated
	}

	box := newOutbox(g.config.Relay.OutboxSize)
	reg.Sink = box
	// Queued ahead of registration so it is the first thing the peer reads.
	_ = box.enqueue(&wire.Message{Type: wire.TypeWelcome, SessionID: reg.ID, ServerID: g.serverID})

	reg.Guard = g.controllerGuard(ctx)
	handle, err := g.hub.Register(reg)
	if err != nil {
		if errors.Is(err, errUnauthenticated) {
			logger.Warn("rejected unauthenticated takeover of controller id", "session_id", reg.ID)
		}
		box.Close()
		return err
	}
	defer func() {
		handle.Close()
		box.Close()
	}()

	logger = logger.With("session_id", reg.ID, "role", reg.Role)
	logger.Info("peer connected", "name", reg.Name)

	go g.writePump(ctx, cancel, conn, box, logger)

	in := make(chan inbound)
	go func() {
		for {
			msg, err := conn.Recv()
			select {
			case in <- inbound{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, wire.ErrMalformed) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("peer disconnected")
			return nil
		case <-box.Done():
			logger.Info("peer connection superseded or closed by hub")
			return nil
		case rcv := <-in:
			if rcv.err != nil {
				if errors.Is(rcv.err, wire.ErrMalformed) {
					handle.Touch()
					logger.Warn("malformed message", "error", rcv.err)
					_ = box.enqueue(wire.Errorf("%v", rcv.err))
					continue
				}
				logger.Info("peer disconnected", "reason", rcv.err)
				return nil
			}
			handle.Touch()
			g.handlePeerMessage(handle, reg.Role, rcv.msg, box, logger)
		}
	}
}

// awaitRegister reads until the first well-formed message, which must register.
func (g *Gateway) awaitRegister(ctx context.Context, conn peerConn, logger *slog.Logger) (session.Registration, error) {
	for {
		if err := ctx.Err(); err != nil {
			return session.Registration{}, err
		}
		msg, err := conn.Recv()
		if errors.Is(err, wire.ErrMalformed) {
			logger.Warn("malformed message before registration", "error", err)
			if sendErr := conn.Send(wire.Errorf("%v", err)); sendErr != nil {
				return session.Registration{}, sendErr
			}
			continue
		}
		if err != nil {
			return session.Registration{}, err
		}
		if msg.Type != wire.TypeRegister {
			return session.Registration{}, errNotRegistered
		}

		role, err := msg.SessionRole()
		if err != nil {
			return session.Registration{}, err
		}
		id := msg.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		return session.Registration{
			ID:       id,
			Role:     role,
			Name:     msg.Name,
			Metadata: msg.Metadata,
		}, nil
	}
}

// writePump is the only goroutine that writes to conn after registration.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, conn peerConn, box *outbox, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-box.Done():
			return
		case msg := <-box.ch:
			if err := conn.Send(msg); err != nil {
				logger.Debug("write to peer failed", "error", err)
				cancel()
				return
			}
		}
	}
}

func (g *Gateway) handlePeerMessage(handle session.Handle, role session.Role, msg *wire.Message, box *outbox, logger *slog.Logger) {
	switch msg.Type {
	case wire.TypeHeartbeat:
		logger.Debug("heartbeat")

	case wire.TypeEvent:
		g.hub.Submit(relay.Submission{
			Source:  handle.ID,
			EventID: msg.Event.ID,
			Kind:    msg.Event.Kind,
			Payload: msg.Event.Payload,
		})

	case wire.TypeDispatch:
		if role != session.RoleController {
			_ = box.enqueue(&wire.Message{Type: wire.TypeDispatchResult, Ref: msg.Ref, Error: "forbidden"})
			return
		}
		result := &wire.Message{Type: wire.TypeDispatchResult, Ref: msg.Ref, Target: msg.Target}
		receipt, err := g.hub.Dispatch(msg.Target, msg.Kind, msg.Payload)
		if err != nil {
			result.Error = errorCode(err)
		} else {
			result.CommandID = receipt.CommandID
			result.Queued = receipt.Queued
		}
		if err := box.enqueue(result); err != nil {
			logger.Warn("dropped dispatch result", "ref", msg.Ref, "error", err)
		}

	case wire.TypeRegister:
		logger.Warn("received duplicate registration")
		_ = box.enqueue(wire.Errorf("already registered as %s", handle.ID))

	default:
		logger.Debug("ignoring message", "type", msg.Type)
	}
}

// errorCode maps relay errors to the short codes used on the wire.
func errorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrNotFound):
		return "not_found"
	case errors.Is(err, relay.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, relay.ErrInvalidCommand):
		return "invalid"
	default:
		return "internal"
	}
}
