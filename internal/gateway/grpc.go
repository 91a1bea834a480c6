// ABOUTME: gRPC Relay service: one bidirectional Connect stream per push peer
// ABOUTME: Carries JSON wire envelopes in google.protobuf.BytesValue and maps peer errors to status codes

package gateway

import (
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/relay-hub/internal/wire"
)

// RelayServer is the server API of the relayhub.v1.Relay service.
type RelayServer interface {
	Connect(grpc.ServerStream) error
}

// relayServiceDesc registers RelayServer without generated code; messages are
// google.protobuf.BytesValue holding a JSON envelope.
var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*RelayServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    wire.ConnectStreamDesc.StreamName,
		ServerStreams: wire.ConnectStreamDesc.ServerStreams,
		ClientStreams: wire.ConnectStreamDesc.ClientStreams,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(RelayServer).Connect(stream)
		},
	}},
	Metadata: "relayhub/v1/relay.proto",
}

// relayServer implements RelayServer on top of the gateway's peer loop.
type relayServer struct {
	gateway *Gateway
	logger  *slog.Logger
}

func newRelayServer(gw *Gateway, logger *slog.Logger) *relayServer {
	return &relayServer{gateway: gw, logger: logger}
}

// Connect handles one push peer.
// Protocol flow:
// 1. Peer sends register
// 2. Server responds with welcome
// 3. Peer sends heartbeat, event or (controllers) dispatch messages
// 4. Server sends command, event, roster, dispatch_result or error messages
func (s *relayServer) Connect(stream grpc.ServerStream) error {
	remote := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	err := s.gateway.servePeer(stream.Context(), &grpcPeer{stream: stream}, remote)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, errNotRegistered):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case status.Code(err) == codes.Canceled:
		return nil
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		s.logger.Error("relay stream failed", "remote", remote, "error", err)
		return status.Errorf(codes.Internal, "relay stream: %v", err)
	}
}

// grpcPeer adapts a server stream to peerConn.
type grpcPeer struct {
	stream grpc.ServerStream
}

func (p *grpcPeer) Recv() (*wire.Message, error) {
	var msg wrapperspb.BytesValue
	if err := p.stream.RecvMsg(&msg); err != nil {
		return nil, err
	}
	return wire.FromProto(&msg)
}

func (p *grpcPeer) Send(msg *wire.Message) error {
	pb, err := wire.ToProto(msg)
	if err != nil {
		return err
	}
	return p.stream.SendMsg(pb)
}
