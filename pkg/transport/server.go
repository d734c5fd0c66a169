package transport

import (
	"fmt"
	"net"

	"github.com/cuemby/ankagent/pkg/agent"
	"github.com/cuemby/ankagent/pkg/log"
	"google.golang.org/grpc"
)

// ServerSideStream is the mirror image of agent.ServerStream: the contract
// whatever sits on the other end of the Exchange connection (the
// control-plane server this repo treats as an external collaborator) needs
// to drive one agent session.
type ServerSideStream interface {
	Recv() (agent.ToServer, error)
	Send(agent.FromServer) error
}

// SessionHandler processes one agent connection for the lifetime of the
// stream; it returns when the agent disconnects or the session ends.
type SessionHandler func(ServerSideStream) error

// Server hosts the Exchange RPC over a real gRPC server, accepting one
// SessionHandler invocation per connected agent. It exists for the demo
// binary and integration tests; the production control-plane server is
// out of this repo's scope.
type Server struct {
	grpcServer *grpc.Server
	onSession  SessionHandler
}

// NewServer builds a Server that invokes onSession for every agent that
// connects.
func NewServer(onSession SessionHandler) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		onSession:  onSession,
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serve transport: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, waiting for in-flight sessions.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) handle(stream grpc.ServerStream) error {
	logger := log.WithComponent("transport_server")
	sess := serverSideStream{stream: stream}
	if err := s.onSession(sess); err != nil {
		logger.Warn().Err(err).Msg("agent session ended with error")
		return err
	}
	return nil
}

// serverSideStream adapts a raw grpc.ServerStream to ServerSideStream
// using jsonCodec's message shapes directly as SendMsg/RecvMsg arguments.
type serverSideStream struct {
	stream grpc.ServerStream
}

func (s serverSideStream) Recv() (agent.ToServer, error) {
	var msg agent.ToServer
	if err := s.stream.RecvMsg(&msg); err != nil {
		return agent.ToServer{}, err
	}
	return msg, nil
}

func (s serverSideStream) Send(msg agent.FromServer) error {
	return s.stream.SendMsg(&msg)
}
