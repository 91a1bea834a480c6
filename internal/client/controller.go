// ABOUTME: Controller-side calls: login, roster, session lookup, dispatch and stats
// ABOUTME: Results reuse the hub's own session and relay types

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/relay-hub/internal/relay"
	"github.com/2389/relay-hub/internal/session"
)

// Health is the body of GET /health.
type Health struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// Login exchanges credentials for a token. The client keeps using its previous
// token until SetToken is called.
func (c *Client) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", body, &resp); err != nil {
		return "", time.Time{}, err
	}
	return resp.Token, resp.ExpiresAt, nil
}

// Health checks liveness of the hub process.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready reports whether at least one agent is connected.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
	if IsStatus(err, http.StatusServiceUnavailable) {
		return false, nil
	}
	return err == nil, err
}

// Roster lists every session in registration order.
func (c *Client) Roster(ctx context.Context) ([]session.Info, error) {
	var resp struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/roster", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Session looks up one session.
func (c *Client) Session(ctx context.Context, id string) (*session.Info, error) {
	var info session.Info
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Dispatch sends a command to an agent.
func (c *Client) Dispatch(ctx context.Context, target, kind string, payload json.RawMessage) (relay.Receipt, error) {
	body := struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{Kind: kind, Payload: payload}

	var receipt relay.Receipt
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(target)+"/dispatch", body, &receipt)
	return receipt, err
}

// Stats fetches the hub counters.
func (c *Client) Stats(ctx context.Context) (relay.Stats, error) {
	var stats relay.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats)
	return stats, err
}
