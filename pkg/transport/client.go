package transport

import (
	"context"
	"fmt"

	"github.com/cuemby/ankagent/pkg/agent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a gRPC connection to addr and starts the Exchange stream,
// returning an agent.ServerStream the AgentManager actor can drive
// directly. The connection carries no TLS: the agent's channel of trust
// is expected to come from the run environment (e.g. a service mesh or
// localhost-only listener), matching how spec.md treats the wire
// transport itself as outside the agent core's scope.
func Dial(ctx context.Context, addr string) (*ClientStream, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	stream, err := conn.NewStream(ctx, &exchangeStreamDesc, fullMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open exchange stream: %w", err)
	}

	return &ClientStream{conn: conn, stream: stream}, nil
}

// ClientStream is the agent-side half of the Exchange RPC: it implements
// agent.ServerStream directly, so a Manager can be constructed with it
// unchanged.
type ClientStream struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

// Recv blocks for the next FromServer message.
func (c *ClientStream) Recv() (agent.FromServer, error) {
	var msg agent.FromServer
	if err := c.stream.RecvMsg(&msg); err != nil {
		return agent.FromServer{}, err
	}
	return msg, nil
}

// Send delivers msg to the server.
func (c *ClientStream) Send(msg agent.ToServer) error {
	return c.stream.SendMsg(&msg)
}

// Close tears down the underlying connection.
func (c *ClientStream) Close() error {
	return c.conn.Close()
}
