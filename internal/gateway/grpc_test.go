// ABOUTME: Tests for the gRPC Connect stream against a loopback server
// ABOUTME: Covers registration, command push, event fan-out, dispatch results, auth and replacement

package gateway

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/relay-hub/internal/config"
	"github.com/2389/relay-hub/internal/session"
	"github.com/2389/relay-hub/internal/wire"
)

func TestConnect_AgentReceivesCommand(t *testing.T) {
	tg := newTestGateway(t, nil)
	agent := tg.dial(t, "")

	welcome := register(t, agent, "A1", "agent")
	assert.Equal(t, "A1", welcome.SessionID)
	assert.Equal(t, tg.serverID, welcome.ServerID)

	receipt, err := tg.hub.Dispatch("A1", "screenshot", json.RawMessage(`{"quality":80}`))
	require.NoError(t, err)
	assert.False(t, receipt.Queued)

	msg := recvType(t, agent, wire.TypeCommand)
	require.NotNil(t, msg.Command)
	assert.Equal(t, receipt.CommandID, msg.Command.ID)
	assert.Equal(t, "screenshot", msg.Command.Kind)
	assert.JSONEq(t, `{"quality":80}`, string(msg.Command.Payload))

	info, ok := tg.hub.Lookup("A1")
	require.True(t, ok)
	assert.Equal(t, session.ModePush, info.Mode)
}

func TestConnect_GeneratesIDWhenMissing(t *testing.T) {
	tg := newTestGateway(t, nil)
	agent := tg.dial(t, "")

	welcome := register(t, agent, "", "agent")
	assert.NotEmpty(t, welcome.SessionID)
	_, ok := tg.hub.Lookup(welcome.SessionID)
	assert.True(t, ok)
}

func TestConnect_FirstMessageMustRegister(t *testing.T) {
	tg := newTestGateway(t, nil)
	s := tg.dial(t, "")

	require.NoError(t, s.Send(&wire.Message{Type: wire.TypeHeartbeat}))
	_, err := s.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestConnect_MalformedMessageKeepsStreamOpen(t *testing.T) {
	tg := newTestGateway(t, nil)
	s := tg.dial(t, "")

	require.NoError(t, s.Send(&wire.Message{Type: wire.TypeRegister, SessionID: "A1", Role: "agent"}))
	recvType(t, s, wire.TypeWelcome)

	require.NoError(t, s.SendRaw([]byte(`{"type":"teleport"}`)))
	errMsg := recvType(t, s, wire.TypeError)
	assert.Contains(t, errMsg.Error, "unknown type")

	_, err := tg.hub.Dispatch("A1", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", recvType(t, s, wire.TypeCommand).Command.Kind)
}

func TestConnect_EventsReachControllers(t *testing.T) {
	tg := newTestGateway(t, nil)
	controller := tg.dial(t, "")
	register(t, controller, "C1", "controller")
	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")

	require.NoError(t, agent.Send(&wire.Message{
		Type:  wire.TypeEvent,
		Event: &session.Event{ID: "evt-1", Kind: "result", Payload: json.RawMessage(`{"ok":true}`)},
	}))

	msg := recvType(t, controller, wire.TypeEvent)
	assert.Equal(t, "A1", msg.Event.Source, "source comes from the session, not the payload")
	assert.Equal(t, "evt-1", msg.Event.ID)
	assert.Equal(t, "result", msg.Event.Kind)
}

func TestConnect_ControllerReceivesRoster(t *testing.T) {
	tg := newTestGateway(t, nil)
	controller := tg.dial(t, "")
	register(t, controller, "C1", "controller")

	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")

	for {
		msg := recvType(t, controller, wire.TypeRoster)
		if len(msg.Roster) == 2 {
			assert.Equal(t, "C1", msg.Roster[0].ID)
			assert.Equal(t, "A1", msg.Roster[1].ID)
			assert.Equal(t, session.RoleAgent, msg.Roster[1].Role)
			return
		}
	}
}

func TestConnect_ControllerDispatch(t *testing.T) {
	tg := newTestGateway(t, nil)
	controller := tg.dial(t, "")
	register(t, controller, "C1", "controller")
	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")

	require.NoError(t, controller.Send(&wire.Message{Type: wire.TypeDispatch, Target: "A1", Kind: "ping", Ref: "r1"}))
	result := recvType(t, controller, wire.TypeDispatchResult)
	assert.Equal(t, "r1", result.Ref)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.CommandID)
	assert.Equal(t, result.CommandID, recvType(t, agent, wire.TypeCommand).Command.ID)

	require.NoError(t, controller.Send(&wire.Message{Type: wire.TypeDispatch, Target: "ghost", Kind: "ping", Ref: "r2"}))
	result = recvType(t, controller, wire.TypeDispatchResult)
	assert.Equal(t, "r2", result.Ref)
	assert.Equal(t, "not_found", result.Error)
}

func TestConnect_AgentCannotDispatch(t *testing.T) {
	tg := newTestGateway(t, nil)
	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")

	require.NoError(t, agent.Send(&wire.Message{Type: wire.TypeDispatch, Target: "A1", Kind: "ping", Ref: "r1"}))
	result := recvType(t, agent, wire.TypeDispatchResult)
	assert.Equal(t, "forbidden", result.Error)
}

func TestConnect_ReplacementEndsOldStream(t *testing.T) {
	tg := newTestGateway(t, nil)
	first := tg.dial(t, "")
	register(t, first, "A1", "agent")

	second := tg.dial(t, "")
	register(t, second, "A1", "agent")

	for {
		_, err := first.Recv()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}

	// The old stream's teardown must not remove the new session.
	time.Sleep(20 * time.Millisecond)
	_, err := tg.hub.Dispatch("A1", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", recvType(t, second, wire.TypeCommand).Command.Kind)
}

func TestConnect_DisconnectRemovesSession(t *testing.T) {
	tg := newTestGateway(t, nil)
	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")

	require.NoError(t, agent.CloseSend())
	require.Eventually(t, func() bool {
		_, ok := tg.hub.Lookup("A1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnect_ControllerAuth(t *testing.T) {
	tg := newTestGateway(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testSecret })

	t.Run("agents need no token", func(t *testing.T) {
		register(t, tg.dial(t, ""), "A1", "agent")
	})

	t.Run("anonymous controller is rejected", func(t *testing.T) {
		s := tg.dial(t, "")
		require.NoError(t, s.Send(&wire.Message{Type: wire.TypeRegister, SessionID: "C1", Role: "controller"}))
		_, err := s.Recv()
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("controller with token is accepted", func(t *testing.T) {
		token, err := tg.verifier.Generate("alice", time.Hour)
		require.NoError(t, err)
		register(t, tg.dial(t, token), "C1", "controller")
	})

	t.Run("bad token is rejected", func(t *testing.T) {
		s := tg.dial(t, "forged")
		_ = s.Send(&wire.Message{Type: wire.TypeRegister, SessionID: "A2", Role: "agent"})
		_, err := s.Recv()
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestConnect_AnonymousCannotReplaceController(t *testing.T) {
	tg := newTestGateway(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testSecret })
	token, err := tg.verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	controller := tg.dial(t, token)
	register(t, controller, "C1", "controller")

	hijack := tg.dial(t, "")
	require.NoError(t, hijack.Send(&wire.Message{Type: wire.TypeRegister, SessionID: "C1", Role: "agent"}))
	_, err = hijack.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	info, ok := tg.hub.Lookup("C1")
	require.True(t, ok)
	assert.Equal(t, session.RoleController, info.Role)

	// The original stream still relays events.
	agent := tg.dial(t, "")
	register(t, agent, "A1", "agent")
	require.NoError(t, agent.Send(&wire.Message{Type: wire.TypeEvent, Event: &session.Event{Kind: "status"}}))
	ev := recvType(t, controller, wire.TypeEvent)
	assert.Equal(t, "A1", ev.Event.Source)
}
