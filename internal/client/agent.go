// ABOUTME: Pull agent calls: register, heartbeat, poll, submit and leave
// ABOUTME: Used by agents that cannot hold a persistent connection

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/2389/relay-hub/internal/session"
)

// Registration describes a pull session to register.
type Registration struct {
	ID       string         `json:"id,omitempty"`
	Role     string         `json:"role,omitempty"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Registered is the hub's answer to Register.
type Registered struct {
	ID              string `json:"id"`
	Role            string `json:"role"`
	Transport       string `json:"transport"`
	LivenessTimeout string `json:"liveness_timeout"`
}

func sessionPath(id string, suffix string) string {
	return "/api/sessions/" + url.PathEscape(id) + suffix
}

// Register creates or replaces a pull session. An empty ID is assigned by the hub.
func (c *Client) Register(ctx context.Context, reg Registration) (*Registered, error) {
	var out Registered
	if err := c.do(ctx, http.MethodPost, "/api/sessions", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat refreshes liveness. known is false when the hub has no such
// session and the caller should register again.
func (c *Client) Heartbeat(ctx context.Context, id string) (known bool, err error) {
	var resp struct {
		Known bool `json:"known"`
	}
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "/heartbeat"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Known, nil
}

// Poll drains the session's pending commands.
func (c *Client) Poll(ctx context.Context, id string) ([]session.Command, error) {
	var resp struct {
		Commands []session.Command `json:"commands"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/commands"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// Submit uploads an event. eventID may be empty; a non-empty id makes retries safe.
func (c *Client) Submit(ctx context.Context, id, eventID, kind string, payload json.RawMessage) error {
	body := struct {
		EventID string          `json:"event_id,omitempty"`
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{EventID: eventID, Kind: kind, Payload: payload}
	return c.do(ctx, http.MethodPost, sessionPath(id, "/events"), body, nil)
}

// Leave removes the session.
func (c *Client) Leave(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}
