// ABOUTME: Test fixtures for the gateway: in-process gateway with loopback gRPC and HTTP servers
// ABOUTME: Provides stream helpers that skip unrelated messages such as roster updates

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/2389/relay-hub/internal/config"
	"github.com/2389/relay-hub/internal/wire"
)

const testSecret = "gateway-test-secret-32-bytes-ok!"

type testGateway struct {
	*Gateway
	grpcAddr string
	http     *httptest.Server
}

func newTestGateway(t *testing.T, mutate func(*config.Config)) *testGateway {
	t.Helper()
	cfg := config.Default()
	cfg.Relay.RosterDebounce = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	gw.hub.Start(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gw.grpcServer.Serve(ln) }()

	srv := httptest.NewServer(gw.httpServer.Handler)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		gw.hub.Close()
		gw.grpcServer.Stop()
	})
	return &testGateway{Gateway: gw, grpcAddr: ln.Addr().String(), http: srv}
}

func (tg *testGateway) dial(t *testing.T, token string) *wire.Stream {
	t.Helper()
	cc, err := grpc.NewClient(tg.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	stream, err := wire.Dial(ctx, cc)
	require.NoError(t, err)
	return stream
}

// register sends a register message and waits for the welcome.
func register(t *testing.T, s *wire.Stream, id, role string) *wire.Message {
	t.Helper()
	require.NoError(t, s.Send(&wire.Message{Type: wire.TypeRegister, SessionID: id, Role: role, Name: id}))
	welcome, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.TypeWelcome, welcome.Type)
	return welcome
}

// recvType reads until a message of the wanted type arrives.
func recvType(t *testing.T, s *wire.Stream, want string) *wire.Message {
	t.Helper()
	for {
		msg, err := s.Recv()
		require.NoError(t, err)
		if msg.Type == want {
			return msg
		}
	}
}
