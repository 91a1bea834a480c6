// ABOUTME: Tests for the HTTP client against a real in-process gateway
// ABOUTME: Covers the pull agent loop, controller calls, login and error decoding

package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/config"
	"github.com/2389/relay-hub/internal/gateway"
	"github.com/2389/relay-hub/internal/session"
)

const testSecret = "client-test-secret-of-32-bytes!!"

func newServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Relay.RosterDebounce = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	gw.Hub().Start(ctx)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		gw.Hub().Close()
	})
	return srv
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", New("localhost:8080").baseURL)
	assert.Equal(t, "https://hub.example", New("https://hub.example/").baseURL)
}

func TestPullAgentLoop(t *testing.T) {
	srv := newServer(t, nil)
	ctx := context.Background()
	c := New(srv.URL)

	reg, err := c.Register(ctx, Registration{ID: "A2", Name: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, "A2", reg.ID)
	assert.Equal(t, "pull", reg.Transport)

	receipt, err := c.Dispatch(ctx, "A2", "ping", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, receipt.Queued)

	cmds, err := c.Poll(ctx, "A2")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, receipt.CommandID, cmds[0].ID)
	assert.JSONEq(t, `{"n":1}`, string(cmds[0].Payload))

	cmds, err = c.Poll(ctx, "A2")
	require.NoError(t, err)
	assert.Empty(t, cmds)

	require.NoError(t, c.Submit(ctx, "A2", "e1", "result", json.RawMessage(`"pong"`)))

	known, err := c.Heartbeat(ctx, "A2")
	require.NoError(t, err)
	assert.True(t, known)

	require.NoError(t, c.Leave(ctx, "A2"))
	known, err = c.Heartbeat(ctx, "A2")
	require.NoError(t, err)
	assert.False(t, known)

	_, err = c.Poll(ctx, "A2")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestControllerCalls(t *testing.T) {
	srv := newServer(t, nil)
	ctx := context.Background()
	c := New(srv.URL)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = c.Register(ctx, Registration{ID: "A1", Metadata: map[string]any{"os": "linux"}})
	require.NoError(t, err)

	ready, err = c.Ready(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)

	roster, err := c.Roster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, session.RoleAgent, roster[0].Role)
	assert.Equal(t, session.ModePull, roster[0].Mode)

	info, err := c.Session(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "linux", info.Metadata["os"])

	_, err = c.Session(ctx, "ghost")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "session not found", apiErr.Message)

	_, err = c.Dispatch(ctx, "ghost", "ping", nil)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Agents)
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	srv := newServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testSecret
		cfg.Auth.TokenTTL = time.Hour
		cfg.Auth.Users = []config.UserConfig{{Username: "alice", PasswordHash: hash}}
	})
	ctx := context.Background()
	c := New(srv.URL)

	_, err = c.Roster(ctx)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	_, _, err = c.Login(ctx, "alice", "nope")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	token, expires, err := c.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	c.SetToken(token)
	_, err = c.Roster(ctx)
	require.NoError(t, err)

	withOpt := New(srv.URL, WithToken(token), WithHTTPClient(srv.Client()))
	_, err = withOpt.Stats(ctx)
	assert.NoError(t, err)
}

func TestAPIError_Message(t *testing.T) {
	assert.Equal(t, "relay hub returned 502", (&APIError{StatusCode: 502}).Error())
	assert.Equal(t, "relay hub returned 404: gone", (&APIError{StatusCode: 404, Message: "gone"}).Error())
	assert.False(t, IsStatus(nil, 404))
}
