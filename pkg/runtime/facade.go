package runtime

import (
	"context"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// WorkloadHandle is what a Facade hands back for a workload it just
// started: a way to send it further commands (update, delete).
type WorkloadHandle interface {
	Send(cmd WorkloadCommand)
}

// WorkloadCommandKind discriminates the variants of WorkloadCommand.
type WorkloadCommandKind int

const (
	WorkloadUpdate WorkloadCommandKind = iota
	WorkloadDelete
)

// WorkloadCommand is a lifecycle instruction sent to a running workload's
// supervisor.
type WorkloadCommand struct {
	Kind       WorkloadCommandKind
	NewSpec    types.WorkloadSpec
	NewCtlPath string
}

// Spawner is implemented by pkg/supervisor to keep this package from
// importing it directly (supervisor already imports runtime for the
// Connector/StateChecker contracts; this avoids a cycle while letting
// Facade delegate the actual per-workload actor to it).
type Spawner func(ctx context.Context, connector Connector, spec types.WorkloadSpec, workloadID, controlInterfacePath string, report StateReportFunc) WorkloadHandle

// Facade is the agent-facing entry point for starting, replacing,
// resuming and deleting workloads under one Connector. CreateWorkload,
// ReplaceWorkload and DeleteWorkload make their connector calls on the
// caller's goroutine before returning; the supervisor goroutine spawned
// for a created or resumed workload takes over only after that.
type Facade interface {
	GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkloadState, error)
	CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string, report StateReportFunc) (WorkloadHandle, error)
	ReplaceWorkload(ctx context.Context, oldInstance types.WorkloadInstanceName, newSpec types.WorkloadSpec, controlInterfacePath string, report StateReportFunc) (WorkloadHandle, error)
	ResumeWorkload(ctx context.Context, spec types.WorkloadSpec, workloadID string, report StateReportFunc) (WorkloadHandle, error)
	DeleteWorkload(ctx context.Context, instanceName types.WorkloadInstanceName) error
}

// GenericFacade is the one Facade implementation every connector shares:
// it is generic over which Connector it drives, matching the upstream
// design where no runtime-specific code lives above the Connector
// boundary.
type GenericFacade struct {
	connector Connector
	spawn     Spawner
	logger    zerolog.Logger
}

// NewGenericFacade builds a Facade over connector. spawn is the function
// that starts a workload's supervising goroutine; production callers pass
// supervisor.SpawnHandle (adapted to the Spawner signature), tests may
// pass a stub.
func NewGenericFacade(connector Connector, spawn Spawner) *GenericFacade {
	return &GenericFacade{
		connector: connector,
		spawn:     spawn,
		logger:    log.WithComponent("runtime_facade").With().Str("runtime", connector.Name()).Logger(),
	}
}

// GetReusableWorkloads delegates to the connector unchanged; it performs
// no creation or supervision and so needs no supervisor goroutine.
func (f *GenericFacade) GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkloadState, error) {
	return f.connector.GetReusableWorkloads(ctx, agentName)
}

// CreateWorkload starts spec from scratch and returns a handle to the
// supervisor now watching it.
func (f *GenericFacade) CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string, report StateReportFunc) (WorkloadHandle, error) {
	workloadID, err := f.connector.CreateWorkload(ctx, spec, controlInterfacePath)
	if err != nil {
		return nil, err
	}
	f.logger.Info().Str("workload_name", spec.Name()).Str("workload_id", workloadID).Msg("workload created")
	return f.spawn(ctx, f.connector, spec, workloadID, controlInterfacePath, report), nil
}

// ReplaceWorkload deletes the instance named by oldInstance on the caller's
// goroutine, then starts newSpec in its place through CreateWorkload, whose
// supervisor goroutine watches only the new instance. A failure tearing down the old instance is reported as a
// Failed/Delete state on oldInstance, but does not stop the replacement:
// the new instance is still created, privileging forward progress over a
// clean handoff.
func (f *GenericFacade) ReplaceWorkload(ctx context.Context, oldInstance types.WorkloadInstanceName, newSpec types.WorkloadSpec, controlInterfacePath string, report StateReportFunc) (WorkloadHandle, error) {
	if err := f.deleteOldInstance(ctx, oldInstance, report); err != nil {
		f.logger.Warn().Err(err).Str("workload_name", oldInstance.WorkloadName()).Msg("failed to remove old workload instance ahead of replacement; attempting replacement anyway")
	} else {
		f.logger.Info().Str("workload_name", oldInstance.WorkloadName()).Msg("old workload instance removed ahead of replacement")
	}
	return f.CreateWorkload(ctx, newSpec, controlInterfacePath, report)
}

// deleteOldInstance resolves and deletes oldInstance, reporting a
// Failed/Delete state on it if either step fails.
func (f *GenericFacade) deleteOldInstance(ctx context.Context, oldInstance types.WorkloadInstanceName, report StateReportFunc) error {
	oldID, err := f.connector.GetWorkloadID(ctx, oldInstance)
	if err != nil {
		report(types.WorkloadState{
			InstanceName:   oldInstance,
			ExecutionState: types.ExecutionState{State: types.ExecFailed, Substate: "Delete", AdditionalInfo: err.Error()},
		})
		return err
	}
	if err := f.connector.DeleteWorkload(ctx, oldID); err != nil {
		report(types.WorkloadState{
			InstanceName:   oldInstance,
			ExecutionState: types.ExecutionState{State: types.ExecFailed, Substate: "Delete", AdditionalInfo: err.Error()},
		})
		return err
	}
	return nil
}

// ResumeWorkload adopts a workload instance the connector found already
// running (from GetReusableWorkloads) instead of creating a new one,
// starting only a state checker and supervisor for it.
func (f *GenericFacade) ResumeWorkload(ctx context.Context, spec types.WorkloadSpec, workloadID string, report StateReportFunc) (WorkloadHandle, error) {
	f.logger.Info().Str("workload_name", spec.Name()).Str("workload_id", workloadID).Msg("resuming existing workload instance")
	return f.spawn(ctx, f.connector, spec, workloadID, "", report), nil
}

// DeleteWorkload tears down the instance named by instanceName directly,
// with no supervisor goroutine of its own — used when an instance must go
// away without ever being under this agent's supervision (e.g. during
// UpdateDeleteOnly where no replacement will be supervised by this
// facade).
func (f *GenericFacade) DeleteWorkload(ctx context.Context, instanceName types.WorkloadInstanceName) error {
	workloadID, err := f.connector.GetWorkloadID(ctx, instanceName)
	if err != nil {
		return err
	}
	return f.connector.DeleteWorkload(ctx, workloadID)
}
