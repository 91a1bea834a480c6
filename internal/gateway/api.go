// ABOUTME: HTTP API: pull transport for agents and controller endpoints for roster and dispatch
// ABOUTME: Thin JSON handlers over the relay hub; auth wrapping happens in routes()

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/relay"
	"github.com/2389/relay-hub/internal/session"
)

const maxBodyBytes = 1 << 20

// RegisterRequest is the body of POST /api/sessions.
type RegisterRequest struct {
	ID       string         `json:"id,omitempty"`
	Role     string         `json:"role,omitempty"` // defaults to agent
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RegisterResponse is returned by POST /api/sessions.
type RegisterResponse struct {
	ID              string       `json:"id"`
	Role            session.Role `json:"role"`
	Transport       session.Mode `json:"transport"`
	LivenessTimeout string       `json:"liveness_timeout"`
}

// EventRequest is the body of POST /api/sessions/{id}/events.
type EventRequest struct {
	EventID string          `json:"event_id,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DispatchRequest is the body of POST /api/sessions/{id}/dispatch.
type DispatchRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandsResponse is returned by GET /api/sessions/{id}/commands.
type CommandsResponse struct {
	Commands []session.Command `json:"commands"`
}

// RosterResponse is returned by GET /api/roster.
type RosterResponse struct {
	Sessions []session.Info `json:"sessions"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Pull transport - agents are not gated
	mux.HandleFunc("POST /api/sessions", g.handleRegister)
	mux.HandleFunc("POST /api/sessions/{id}/heartbeat", g.handleHeartbeat)
	mux.HandleFunc("GET /api/sessions/{id}/commands", g.handlePoll)
	mux.HandleFunc("POST /api/sessions/{id}/events", g.handleSubmit)
	mux.HandleFunc("DELETE /api/sessions/{id}", g.handleLeave)

	// Controller endpoints - auth required if JWT secret is configured
	controller := func(h http.HandlerFunc) http.Handler { return h }
	if g.verifier != nil {
		controller = func(h http.HandlerFunc) http.Handler { return auth.RequireHTTP(g.verifier)(h) }
		mux.Handle("POST /api/login", auth.LoginHandler(g.users, g.verifier, g.config.Auth.TokenTTL, g.logger.With("component", "login")))
		g.logger.Info("HTTP auth enabled for controller endpoints")
	} else {
		g.logger.Warn("auth disabled - no jwt_secret configured")
	}
	mux.Handle("GET /api/roster", controller(g.handleRoster))
	mux.Handle("GET /api/sessions/{id}", controller(g.handleGetSession))
	mux.Handle("POST /api/sessions/{id}/dispatch", controller(g.handleDispatch))
	mux.Handle("GET /api/stats", controller(g.handleStats))

	// Push transport for WebSocket peers
	mux.HandleFunc("GET /ws", g.handleWebSocket)

	if g.verifier != nil {
		return auth.OptionalHTTP(g.verifier)(mux)
	}
	return mux
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := session.RoleAgent
	if req.Role != "" {
		parsed, err := session.ParseRole(req.Role)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}
	if role == session.RoleController && g.verifier != nil && auth.FromContext(r.Context()) == nil {
		g.sendJSONError(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return
	}

	handle, err := g.hub.Register(session.Registration{
		ID:       req.ID,
		Role:     role,
		Name:     req.Name,
		Metadata: req.Metadata,
		Guard:    g.controllerGuard(r.Context()),
	})
	switch {
	case errors.Is(err, errUnauthenticated):
		g.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	g.sendJSON(w, http.StatusCreated, RegisterResponse{
		ID:              handle.ID,
		Role:            role,
		Transport:       session.ModePull,
		LivenessTimeout: g.config.Relay.LivenessTimeout.String(),
	})
}

// handleHeartbeat always succeeds; unknown sessions are not resurrected.
func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	known := g.hub.Heartbeat(r.PathValue("id"))
	g.sendJSON(w, http.StatusOK, map[string]bool{"success": true, "known": known})
}

func (g *Gateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	cmds, err := g.hub.Poll(r.PathValue("id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found; register again")
		return
	case errors.Is(err, session.ErrNotPull):
		g.sendJSONError(w, http.StatusConflict, "session receives commands by push")
		return
	case err != nil:
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, CommandsResponse{Commands: cmds})
}

// handleSubmit forwards a result or event. Well-formed submissions always succeed.
func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		g.sendJSONError(w, http.StatusBadRequest, "kind is required")
		return
	}

	g.hub.Submit(relay.Submission{
		Source:  r.PathValue("id"),
		EventID: req.EventID,
		Kind:    req.Kind,
		Payload: req.Payload,
	})
	g.sendJSON(w, http.StatusOK, successResponse{Success: true})
}

func (g *Gateway) handleLeave(w http.ResponseWriter, r *http.Request) {
	removed, err := g.hub.LeaveIf(r.PathValue("id"), g.controllerGuard(r.Context()))
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]bool{"success": true, "removed": removed})
}

func (g *Gateway) handleRoster(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, RosterResponse{Sessions: g.hub.Roster()})
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := g.hub.Lookup(r.PathValue("id"))
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	g.sendJSON(w, http.StatusOK, info)
}

func (g *Gateway) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		g.sendJSONError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	receipt, err := g.hub.Dispatch(r.PathValue("id"), req.Kind, req.Payload)
	switch {
	case errors.Is(err, relay.ErrInvalidCommand):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, relay.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, relay.ErrUnreachable):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if id := auth.FromContext(r.Context()); id != nil {
		g.logger.Info("command dispatched", "by", id.Subject, "target", r.PathValue("id"), "command_id", receipt.CommandID)
	}
	g.sendJSON(w, http.StatusAccepted, receipt)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.hub.Stats())
}

// handleHealth returns 200 OK with the number of sessions if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := g.hub.Stats()
	g.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"server_id": g.serverID,
		"sessions":  stats.Sessions,
		"uptime":    time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// handleReady returns 200 OK if the server has at least one agent connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.hub.Stats().Agents
	if agents == 0 {
		g.sendJSONError(w, http.StatusServiceUnavailable, "no agents connected")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"status": "ready", "agents": agents})
}
