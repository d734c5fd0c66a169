// Package wire implements the length-delimited protobuf framing the
// control interface pipes carry: every message is a varint byte count
// followed by that many bytes of an Envelope, matching how prost's
// `encode_length_delimited_to_vec` frames messages over the same kind of
// FIFO in the original control interface implementation.
package wire

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates which oneof variant an Envelope carries, mirroring
// control_api::ToAnkaios/FromAnkaios's oneof fields.
type Kind int32

const (
	// KindRequest carries a workload's request to the agent (the only
	// variant of control_api::ToAnkaios).
	KindRequest Kind = 1
	// KindResponse carries the agent's reply to a Request.
	KindResponse Kind = 2
	// KindUpdateWorkloadState pushes a state change the workload
	// subscribed to.
	KindUpdateWorkloadState Kind = 3
	// KindLogsRequest asks the agent to start streaming another
	// workload's logs.
	KindLogsRequest Kind = 4
	// KindLogsCancelRequest asks the agent to stop a log stream
	// previously started by a LogsRequest.
	KindLogsCancelRequest Kind = 5
	// KindLogEntriesResponse carries a batch of log lines for a request
	// started by KindLogsRequest.
	KindLogEntriesResponse Kind = 6
	// KindLogsStopResponse tells the receiver a log stream has ended.
	KindLogsStopResponse Kind = 7
)

// fieldKind and fieldPayload are the two protobuf field numbers an
// Envelope is encoded across.
const (
	fieldKind    = protowire.Number(1)
	fieldPayload = protowire.Number(2)
)

// Envelope is the wire-level message carried over a control interface
// pipe: a Kind tag plus that variant's own, separately-encoded payload.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Encode serializes e into its protobuf wire-format bytes.
func Encode(e Envelope) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Kind))
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Payload)
	return buf
}

// Decode parses data (as produced by Encode) back into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("decode envelope: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("decode envelope: malformed kind: %w", protowire.ParseError(n))
			}
			e.Kind = Kind(v)
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("decode envelope: malformed payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("decode envelope: malformed field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

// WriteDelimited writes data to w prefixed with its length as a protobuf
// varint, the same length-delimited framing prost uses so a reader on the
// other end of the pipe knows where one message ends and the next begins.
func WriteDelimited(w io.Writer, data []byte) error {
	prefixed := protowire.AppendVarint(nil, uint64(len(data)))
	prefixed = append(prefixed, data...)
	_, err := w.Write(prefixed)
	return err
}

// ReadDelimited reads one length-prefixed message from r. It takes a
// *bufio.Reader because the varint length prefix is read one byte at a
// time.
func ReadDelimited(r *bufio.Reader) ([]byte, error) {
	length, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return buf, nil
}

func readVarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read varint length prefix: %w", err)
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, fmt.Errorf("decode varint length prefix: %w", protowire.ParseError(n))
	}
	return v, nil
}
