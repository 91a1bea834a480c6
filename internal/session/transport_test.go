// ABOUTME: Tests for the push/pull transport binding and the Send dispatcher.
// ABOUTME: Verifies invalidation semantics and that pull only carries commands.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_PushWritesToSink(t *testing.T) {
	sink := &recordingSink{}
	push := NewPushTransport(sink)

	require.NoError(t, Send(push, EventFrame(&Event{ID: "e"})))
	require.Len(t, sink.received(), 1)
	assert.Equal(t, FrameEvent, sink.received()[0].Type)
}

func TestSend_PushAfterInvalidateIsStale(t *testing.T) {
	sink := &recordingSink{}
	push := NewPushTransport(sink)

	push.Invalidate()
	push.Invalidate() // idempotent

	err := Send(push, CommandFrame(&Command{ID: "c"}))
	assert.ErrorIs(t, err, ErrStaleTransport)
	assert.True(t, push.Stale())
	assert.Empty(t, sink.received())
	assert.True(t, sink.isClosed())
}

func TestSend_PushPropagatesSinkError(t *testing.T) {
	push := NewPushTransport(&recordingSink{broken: true})
	assert.ErrorIs(t, Send(push, CommandFrame(&Command{ID: "c"})), errSinkBroken)
}

func TestSend_PullQueuesCommandsOnly(t *testing.T) {
	q := NewQueue(8, nil)
	pull := NewPullTransport(q)

	require.NoError(t, Send(pull, CommandFrame(&Command{ID: "c"})))
	assert.Equal(t, 1, q.Len())

	err := Send(pull, EventFrame(&Event{ID: "e"}))
	assert.ErrorIs(t, err, ErrNotDeliverable)
	err = Send(pull, RosterFrame(nil))
	assert.ErrorIs(t, err, ErrNotDeliverable)
	assert.Equal(t, 1, q.Len())
}

func TestParseRoleAndMode(t *testing.T) {
	tests := []struct {
		in      string
		role    Role
		wantErr bool
	}{
		{"agent", RoleAgent, false},
		{"controller", RoleController, false},
		{"admin", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, got)
			assert.Equal(t, tt.in, got.String())
		})
	}

	m, err := ParseMode("pull")
	require.NoError(t, err)
	assert.Equal(t, ModePull, m)
	_, err = ParseMode("carrier-pigeon")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
