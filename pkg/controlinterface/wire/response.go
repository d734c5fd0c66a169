package wire

import "google.golang.org/protobuf/encoding/protowire"

const (
	responseFieldDenied  = protowire.Number(1)
	responseFieldMessage = protowire.Number(2)
)

// ResponsePayload is the payload of a KindResponse envelope. Denied/Message
// carry the AuthorizationDenied case of spec.md §7, where the agent answers
// a request locally instead of forwarding it to the server; a server-issued
// response is passed through as opaque bytes elsewhere and never needs this
// shape.
type ResponsePayload struct {
	Denied  bool
	Message string
}

// EncodeResponsePayload serializes p the same length-delimited-protobuf way
// the rest of this package encodes its payloads.
func EncodeResponsePayload(p ResponsePayload) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, responseFieldDenied, protowire.VarintType)
	denied := uint64(0)
	if p.Denied {
		denied = 1
	}
	buf = protowire.AppendVarint(buf, denied)
	buf = protowire.AppendTag(buf, responseFieldMessage, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(p.Message))
	return buf
}

// DecodeResponsePayload parses data (as produced by EncodeResponsePayload)
// back into a ResponsePayload.
func DecodeResponsePayload(data []byte) (ResponsePayload, error) {
	var p ResponsePayload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ResponsePayload{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == responseFieldDenied && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ResponsePayload{}, protowire.ParseError(n)
			}
			p.Denied = v != 0
			data = data[n:]
		case num == responseFieldMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ResponsePayload{}, protowire.ParseError(n)
			}
			p.Message = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ResponsePayload{}, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return p, nil
}
