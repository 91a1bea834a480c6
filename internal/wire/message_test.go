// ABOUTME: Tests for envelope decoding, validation and frame conversion.
// ABOUTME: Also round-trips envelopes through the gRPC BytesValue carrier.

package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/relay-hub/internal/session"
)

func TestDecode_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"register agent", `{"type":"register","session_id":"A1","role":"agent"}`, false},
		{"register without id", `{"type":"register","role":"controller"}`, false},
		{"register bad role", `{"type":"register","role":"admin"}`, true},
		{"heartbeat", `{"type":"heartbeat"}`, false},
		{"dispatch", `{"type":"dispatch","target":"A1","kind":"ping","payload":{"n":1}}`, false},
		{"dispatch without kind", `{"type":"dispatch","target":"A1"}`, true},
		{"event", `{"type":"event","event":{"kind":"result","payload":[1,2]}}`, false},
		{"event without body", `{"type":"event"}`, true},
		{"unknown type", `{"type":"teleport"}`, true},
		{"missing type", `{"session_id":"A1"}`, true},
		{"not json", `hello`, true},
		{"wrong field type", `{"type":42}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, msg.Type)
		})
	}
}

func TestFromFrame(t *testing.T) {
	cmd := &session.Command{ID: "c1", Target: "A1", Kind: "ping"}
	msg := FromFrame(session.CommandFrame(cmd))
	assert.Equal(t, TypeCommand, msg.Type)
	assert.Same(t, cmd, msg.Command)

	evt := &session.Event{ID: "e1", Source: "A1", Kind: "result"}
	msg = FromFrame(session.EventFrame(evt))
	assert.Equal(t, TypeEvent, msg.Type)
	assert.Same(t, evt, msg.Event)

	msg = FromFrame(session.RosterFrame(nil))
	assert.Equal(t, TypeRoster, msg.Type)
	data, err := Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"roster"}`, string(data), "an empty roster is omitted, not null")
}

func TestRosterEncodesRoleAndTransportNames(t *testing.T) {
	msg := FromFrame(session.RosterFrame([]session.Info{{
		ID:     "A1",
		Role:   session.RoleAgent,
		Mode:   session.ModePull,
		Online: true,
	}}))

	data, err := Encode(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	entry := raw["roster"].([]any)[0].(map[string]any)
	assert.Equal(t, "agent", entry["role"])
	assert.Equal(t, "pull", entry["transport"])
	assert.Equal(t, true, entry["online"])
}

func TestProtoRoundTrip(t *testing.T) {
	in := &Message{
		Type: TypeCommand,
		Command: &session.Command{
			ID:         "c1",
			Target:     "A1",
			Kind:       "screenshot",
			Payload:    json.RawMessage(`{"quality":80,"tags":["a","b"]}`),
			EnqueuedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}

	pb, err := ToProto(in)
	require.NoError(t, err)

	out, err := FromProto(pb)
	require.NoError(t, err)
	require.NotNil(t, out.Command)
	assert.Equal(t, in.Command.ID, out.Command.ID)
	assert.True(t, in.Command.EnqueuedAt.Equal(out.Command.EnqueuedAt))
	assert.Equal(t, string(in.Command.Payload), string(out.Command.Payload))
}

func TestProtoRoundTrip_PreservesPayloadBytes(t *testing.T) {
	// Integers past 2^53 would be rounded by any float64 detour.
	payloads := []string{
		`{"n":9007199254740993,"s":"x"}`,
		`[12345678901234567890,1.50,-0]`,
		`"été"`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			in := &Message{Type: TypeEvent, Event: &session.Event{ID: "e1", Kind: "result", Payload: json.RawMessage(payload)}}

			pb, err := ToProto(in)
			require.NoError(t, err)
			out, err := FromProto(pb)
			require.NoError(t, err)
			assert.Equal(t, payload, string(out.Event.Payload))

			direct, err := Encode(in)
			require.NoError(t, err)
			assert.Equal(t, direct, pb.GetValue(), "gRPC and WebSocket must carry the same bytes")
		})
	}
}

func TestFromProto_RejectsEmptyAndInvalid(t *testing.T) {
	_, err := FromProto(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = FromProto(wrapperspb.Bytes(nil))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = FromProto(wrapperspb.Bytes([]byte(`{"type":"teleport"}`)))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = FromProto(wrapperspb.Bytes([]byte(`not json`)))
	assert.ErrorIs(t, err, ErrMalformed)
}
