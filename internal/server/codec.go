package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// The ledger's messages are plain Go structs, so the RPC surface speaks JSON
// instead of protobuf. Clients select it with grpc.CallContentSubtype("json").
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
