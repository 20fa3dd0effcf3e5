// Package grpcapi is the thin, hand-written gRPC transport spec §1 calls
// "out of scope" beyond the contract it needs from the core: it exposes
// internal/command.Dispatcher over google.golang.org/grpc without proto
// codegen or OpenAPI generation (both explicitly out of scope per spec
// §1's "the gRPC/REST transports... the proto-generated wire types").
//
// Grounded on cuemby-warren's pkg/api/server.go (mTLS grpc.Server
// construction) and interceptor.go (method-name-based gating), adapted
// from warren's generated proto.WarrenAPIServer to a hand-built
// grpc.ServiceDesc, since this module carries no .proto file or codegen
// step. Wire messages are internal/command's plain Go structs, marshaled
// with JSON instead of protobuf — grpc-go's codec is pluggable by design
// (google.golang.org/grpc/encoding.Codec) and doesn't require
// proto.Message, so this stays a real, working gRPC service rather than a
// simulation of one.
package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as the content-subtype grpc-go negotiates;
// clients built against this package must dial with grpc.CallContentSubtype
// or grpc.ForceCodec set to the same codec.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
