package transport

import (
	"google.golang.org/grpc"
)

// serviceName and methodName name the single bidi-streaming RPC this
// package exposes. There is no .proto source behind it (no protoc
// toolchain is available in this repo) — ServiceDesc is built by hand the
// way grpc itself is built underneath generated code, and jsonCodec
// (codec.go) stands in for the usual protobuf marshaling.
const (
	serviceName = "ankagent.transport.Exchange"
	methodName  = "Exchange"
)

// fullMethod is the RPC path grpc routes the Exchange stream through.
var fullMethod = "/" + serviceName + "/" + methodName

// exchangeStreamDesc describes the one RPC both client and server use: a
// fully bidirectional stream of ToServer (agent -> server) and FromServer
// (server -> agent) frames.
var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    methodName,
	Handler:       exchangeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// serviceDesc registers exchangeStreamDesc under serviceName on a
// grpc.Server.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Streams:     []grpc.StreamDesc{exchangeStreamDesc},
	Metadata:    "pkg/transport",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	return s.handle(stream)
}
