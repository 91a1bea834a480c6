// ABOUTME: WebSocket push transport at /ws using gorilla/websocket
// ABOUTME: JSON text frames carry wire envelopes; pings keep idle connections alive

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Any origin; controllers are gated by token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and runs the shared peer loop.
// Browsers cannot set headers on WebSocket requests, so a token may also be
// passed as ?token=.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if token := r.URL.Query().Get("token"); token != "" && g.verifier != nil && auth.FromContext(ctx) == nil {
		subject, err := g.verifier.Verify(token)
		if err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx = auth.WithIdentity(ctx, &auth.Identity{Subject: subject})
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	p := newWSPeer(conn)
	stop := make(chan struct{})
	defer close(stop)
	go p.pingLoop(stop)

	err = g.servePeer(ctx, p, r.RemoteAddr)
	switch {
	case err == nil:
		p.closeWith(websocket.CloseNormalClosure, "")
	case errors.Is(err, errNotRegistered), errors.Is(err, errUnauthenticated):
		p.closeWith(websocket.ClosePolicyViolation, err.Error())
	default:
		g.logger.Debug("websocket peer ended", "remote", r.RemoteAddr, "error", err)
		p.closeWith(websocket.CloseGoingAway, "")
	}
}

// wsPeer adapts a WebSocket connection to peerConn.
type wsPeer struct {
	conn *websocket.Conn
	// mu serializes data writes; control frames may be written concurrently.
	mu sync.Mutex
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsPeer{conn: conn}
}

func (p *wsPeer) Recv() (*wire.Message, error) {
	kind, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("%w: expected a text frame", wire.ErrMalformed)
	}
	return wire.Decode(data)
}

func (p *wsPeer) Send(msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *wsPeer) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (p *wsPeer) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
