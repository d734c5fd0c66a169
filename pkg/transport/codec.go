package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers its codec
// under; both client and server select it via grpc.CallContentSubtype so
// every frame on the Exchange stream is marshaled by jsonCodec rather than
// grpc's default proto codec.
const codecName = "ankagent-json"

// jsonCodec lets messages cross the wire as plain JSON instead of
// protobuf: there is no .proto source (and no protoc toolchain) behind the
// agent<->server messages this package carries, so grpc's usual
// proto.Message-based codec does not apply. WorkloadInstanceName's
// MarshalJSON/UnmarshalJSON methods are what make embedding it in these
// messages round-trip correctly despite its fields being unexported.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal into %T: %w", v, err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
