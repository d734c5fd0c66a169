// Package runtime defines the contract every concrete container runtime
// plugs into, plus the generic machinery (state polling, facades) built on
// top of it that does not vary between runtimes.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/ankagent/pkg/types"
)

// DefaultPollInterval is how often a PollingStateChecker asks its
// StateGetter for a workload's current state. The upstream project
// this is modeled on leaves the interval unspecified; one second balances
// responsiveness against polling overhead for CLI-backed connectors.
const DefaultPollInterval = 1 * time.Second

// LogOptions narrows a log fetch to a window of output.
type LogOptions struct {
	Follow    bool
	SinceTime time.Time
	TailLines int
}

// ReusableWorkloadState describes a workload instance the connector found
// already running at agent startup, available for the agent to adopt
// instead of recreating from scratch.
type ReusableWorkloadState struct {
	InstanceName types.WorkloadInstanceName
	WorkloadID   string
}

// Connector is the contract a concrete container runtime (containerd,
// podman, ...) implements. The agent core is polymorphic over Connector:
// every operation it performs on a workload goes through this interface,
// never through a runtime-specific type.
type Connector interface {
	// Name identifies the runtime this connector drives, matching the
	// WorkloadSpec.Runtime field workloads select it by.
	Name() string

	// GetReusableWorkloads lists workload instances already running under
	// this runtime that belong to agentName, so the agent can adopt them
	// on restart instead of starting duplicates.
	GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkloadState, error)

	// CreateWorkload starts spec under this runtime and returns the
	// runtime-assigned workload id used by every other Connector method.
	CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string) (workloadID string, err error)

	// GetWorkloadID resolves the runtime id of an already-running
	// instance, used when resuming or replacing a workload across an
	// agent restart.
	GetWorkloadID(ctx context.Context, instanceName types.WorkloadInstanceName) (string, error)

	// StartChecker begins observing workloadID's execution state and
	// returns a StateChecker that reports state via report until Stop is
	// called on it.
	StartChecker(ctx context.Context, workloadID string, spec types.WorkloadSpec, report StateReportFunc) (StateChecker, error)

	// DeleteWorkload tears down the instance identified by workloadID.
	DeleteWorkload(ctx context.Context, workloadID string) error

	// FetchLogs opens a stream of the workload's combined stdout/stderr.
	// The caller must Close the returned reader.
	FetchLogs(ctx context.Context, workloadID string, opts LogOptions) (io.ReadCloser, error)
}

// StateReportFunc is how a StateChecker (or anything else observing a
// workload) reports an execution state change back to the agent.
type StateReportFunc func(types.WorkloadState)

// StateChecker observes one workload instance's execution state for as
// long as it runs, reporting changes through the StateReportFunc it was
// started with. Stop releases any resources (polling goroutine, event
// subscription) the checker holds.
type StateChecker interface {
	Stop()
}

// StateGetter is the runtime-specific half of state observation: given a
// workload id, return its current execution state. PollingStateChecker
// wraps a StateGetter into a StateChecker for runtimes (like podman) that
// have no push-based event stream and must be polled.
type StateGetter interface {
	GetState(ctx context.Context, workloadID string) (types.ExecutionState, error)
}
