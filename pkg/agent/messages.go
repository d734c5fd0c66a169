package agent

import (
	"time"

	"github.com/cuemby/ankagent/pkg/controlinterface/wire"
	"github.com/cuemby/ankagent/pkg/types"
)

// FromServerKind discriminates the variants of FromServer, mirroring the
// tagged-union shape types.WorkloadOperation uses for the scheduler.
type FromServerKind int

const (
	MsgServerHello FromServerKind = iota
	MsgUpdateWorkload
	MsgUpdateWorkloadState
	MsgResponse
	MsgLogsRequest
	MsgLogsCancelRequest
	MsgStop
)

// FromServer is one inbound message the AgentManager loop accepts, either
// from the server stream or synthesized locally (MsgStop on shutdown).
// Exactly one of the accompanying fields is meaningful, selected by Kind.
type FromServer struct {
	Kind FromServerKind

	ServerHello         ServerHello
	UpdateWorkload      UpdateWorkload
	UpdateWorkloadState UpdateWorkloadState
	Response            ControlResponse
	LogsRequest         LogsRequest
	LogsCancelRequest   LogsCancelRequest
}

// ServerHello carries the set of workloads the server expects to already be
// running on this agent, used to decide which runtime-discovered reusable
// workloads to adopt versus tear down.
type ServerHello struct {
	InitialWorkloads []types.WorkloadSpec
}

// UpdateWorkload carries one batch of desired-state changes: specs to
// start and instances to stop, before the manager has correlated them into
// Create/Update/UpdateDeleteOnly/Delete operations.
type UpdateWorkload struct {
	Added   []types.WorkloadSpec
	Deleted []types.DeletedWorkload
}

// UpdateWorkloadState carries one or more execution-state reports to merge
// into the state store, whether produced locally or relayed by the server
// from another agent.
type UpdateWorkloadState struct {
	States []types.WorkloadState
}

// ControlRequest is a request a workload sent through its control
// interface's output pipe, tagged with the request id the manager assigns
// before forwarding it to the server.
type ControlRequest struct {
	ID           string
	WorkloadName string
	Envelope     wire.Envelope
}

// ControlResponse is a response the server (or, for a locally-satisfiable
// request, the manager itself) sends back down to the workload that asked
// for it, matched to a pending ControlRequest by ID.
type ControlResponse struct {
	ID       string
	Envelope wire.Envelope
}

// LogsRequest asks the manager to begin streaming logs for the named
// workload instances on this agent.
type LogsRequest struct {
	ID            string
	WorkloadNames []types.WorkloadInstanceName
	Options       logOptionsWire
}

// logOptionsWire mirrors runtime.LogOptions at the message boundary so the
// wire-facing message set does not embed pkg/runtime's LogOptions type
// directly; the manager translates it at the point of use.
type logOptionsWire struct {
	Follow    bool
	SinceTime time.Time
	TailLines int
}

// LogsCancelRequest asks the manager to stop a log stream previously
// started by a LogsRequest carrying the same ID.
type LogsCancelRequest struct {
	ID string
}

// ToServerKind discriminates the variants of ToServer.
type ToServerKind int

const (
	MsgUpdateWorkloadStateOut ToServerKind = iota
	MsgRequestOut
	MsgLogEntries
	MsgLogsStop
)

// ToServer is one outbound message the AgentManager produces for the
// server: a relayed state update, a forwarded workload request, or a batch
// of log lines (or the end-of-stream marker for one).
type ToServer struct {
	Kind ToServerKind

	UpdateWorkloadState UpdateWorkloadState
	Request             ControlRequest
	LogEntries          LogEntries
}

// LogEntries is one batch of log lines produced for an active LogsRequest,
// or an empty Lines slice marking that request's end-of-stream.
type LogEntries struct {
	RequestID string
	Lines     []string
}

// ServerStream is the narrow contract the manager needs from the upward
// transport: a reliable ordered stream of typed messages in both
// directions. The wire transport itself (spec.md §1's "assumed to deliver
// a reliable ordered stream of typed messages") is outside the agent
// core's scope; pkg/transport provides one concrete implementation.
type ServerStream interface {
	Recv() (FromServer, error)
	Send(ToServer) error
}
