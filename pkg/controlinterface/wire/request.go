package wire

import "google.golang.org/protobuf/encoding/protowire"

// Operation mirrors types.AccessOperation without this leaf package taking
// a dependency on pkg/types: a Request payload only needs to carry enough
// for the control interface to run its own authorizer check.
type Operation int32

const (
	OperationRead Operation = iota
	OperationWrite
)

const (
	requestFieldOperation = protowire.Number(1)
	requestFieldPath      = protowire.Number(2)
)

// RequestPayload is the payload of a KindRequest envelope: the operation a
// workload wants to perform and the dotted state path it touches, gating
// the Authorizer check the control interface runs before forwarding the
// request upward.
type RequestPayload struct {
	Operation Operation
	Path      string
}

// EncodeRequestPayload serializes p the same length-delimited-protobuf way
// Encode serializes an Envelope, keeping the whole control interface wire
// format consistent even though no .proto source defines this payload.
func EncodeRequestPayload(p RequestPayload) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, requestFieldOperation, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Operation))
	buf = protowire.AppendTag(buf, requestFieldPath, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(p.Path))
	return buf
}

// DecodeRequestPayload parses data (as produced by EncodeRequestPayload)
// back into a RequestPayload.
func DecodeRequestPayload(data []byte) (RequestPayload, error) {
	var p RequestPayload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return RequestPayload{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == requestFieldOperation && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return RequestPayload{}, protowire.ParseError(n)
			}
			p.Operation = Operation(v)
			data = data[n:]
		case num == requestFieldPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return RequestPayload{}, protowire.ParseError(n)
			}
			p.Path = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return RequestPayload{}, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return p, nil
}
