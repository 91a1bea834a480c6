// ABOUTME: Hand-declared gRPC stream relayhub.v1.Relay/Connect carrying JSON envelopes in BytesValue.
// ABOUTME: Client helper used by agents and tools that connect over gRPC.

package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service and method names of the push stream.
const (
	ServiceName   = "relayhub.v1.Relay"
	ConnectName   = "Connect"
	ConnectMethod = "/" + ServiceName + "/" + ConnectName
)

// ConnectStreamDesc describes the bidirectional Connect stream. Servers add a
// Handler; clients use it as is.
var ConnectStreamDesc = grpc.StreamDesc{
	StreamName:    ConnectName,
	ServerStreams: true,
	ClientStreams: true,
}

// Stream is the client side of a Connect stream.
type Stream struct {
	cs grpc.ClientStream
}

// Dial opens a Connect stream on an existing client connection.
func Dial(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (*Stream, error) {
	cs, err := cc.NewStream(ctx, &ConnectStreamDesc, ConnectMethod, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening relay stream: %w", err)
	}
	return &Stream{cs: cs}, nil
}

// Send writes one message. It must not be called concurrently with itself.
func (s *Stream) Send(msg *Message) error {
	pb, err := ToProto(msg)
	if err != nil {
		return err
	}
	return s.cs.SendMsg(pb)
}

// SendRaw writes data as an envelope without validating it.
func (s *Stream) SendRaw(data []byte) error {
	return s.cs.SendMsg(wrapperspb.Bytes(data))
}

// Recv reads one message. Undecodable messages report ErrMalformed and leave
// the stream usable.
func (s *Stream) Recv() (*Message, error) {
	var pb wrapperspb.BytesValue
	if err := s.cs.RecvMsg(&pb); err != nil {
		return nil, err
	}
	return FromProto(&pb)
}

// CloseSend half-closes the stream.
func (s *Stream) CloseSend() error {
	return s.cs.CloseSend()
}
