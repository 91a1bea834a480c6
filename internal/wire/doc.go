// Package wire defines the envelope exchanged with push peers.
//
// The same JSON-encoded Message travels as a text frame over WebSocket and
// inside a google.protobuf.BytesValue over the gRPC stream, so both transports
// share one peer loop and deliver payload bytes unchanged.
package wire
