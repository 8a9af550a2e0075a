// Package rpc implements spec.md §6's gRPC transport for BlobService,
// DirectoryService and PathInfoService: both the client adapters used as
// composer tiers, and the server adapters exposing a local composed
// service over the wire.
//
// Grounded on castore-go/rpc_blobstore_grpc.pb.go and
// store/protos/rpc_pathinfo_grpc.pb.go for method/stream shapes, but
// without a full protoc-gen-go reflection layer: messages marshal
// themselves via the same google.golang.org/protobuf/encoding/protowire
// primitives pkg/castorev1/wire.go uses, registered with grpc through a
// small custom encoding.Codec instead of the default proto codec.
package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireMessage is implemented by every request/response/chunk type in this
// package.
type wireMessage interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

const codecName = "tvix-wire"

// Codec is a grpc/encoding.Codec that marshals via each message's own
// MarshalWire/UnmarshalWire methods, bypassing protoreflect entirely.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

func (Codec) Name() string { return codecName }

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("rpc: %T does not implement wireMessage", v)
	}
	return m.MarshalWire()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("rpc: %T does not implement wireMessage", v)
	}
	return m.UnmarshalWire(data)
}
