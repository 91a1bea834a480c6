// ABOUTME: Conversion between envelopes and google.protobuf.BytesValue for the gRPC stream.
// ABOUTME: The value holds the same JSON bytes a WebSocket frame carries, so payloads pass through untouched.

package wire

import (
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ToProto converts a message for sending on the gRPC stream.
func ToProto(msg *Message) (*wrapperspb.BytesValue, error) {
	data, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}

// FromProto decodes a message received on the gRPC stream.
func FromProto(v *wrapperspb.BytesValue) (*Message, error) {
	if v == nil || len(v.GetValue()) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	return Decode(v.GetValue())
}
