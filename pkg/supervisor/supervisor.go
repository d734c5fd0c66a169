// Package supervisor implements the per-workload state machine that owns a
// single workload instance's lifecycle: creating it, watching its reported
// execution state, restarting it per its RestartPolicy, and tearing it
// down.
package supervisor

import (
	"context"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// commandBufferSize bounds the per-workload command channel so a stalled
// supervisor cannot let its owner's sends accumulate unbounded.
const commandBufferSize = 5

// Supervisor owns one workload instance for its entire lifetime: from the
// connector call that creates it, through every state report its checker
// produces, to the connector call that deletes it. It is driven
// exclusively by its own goroutine; Send is the only thread-safe entry
// point another component may use.
type Supervisor struct {
	connector runtime.Connector
	report    runtime.StateReportFunc
	commands  chan runtime.WorkloadCommand
	restarts  chan struct{}
	logger    zerolog.Logger
}

// Spawn creates spec under connector and starts a goroutine that owns its
// entire lifecycle. workloadID is the id the connector assigned, already
// obtained by the caller (RuntimeFacade) so that create/resume/replace can
// share this one loop regardless of how the instance came to exist.
func Spawn(ctx context.Context, connector runtime.Connector, spec types.WorkloadSpec, workloadID, controlInterfacePath string, report runtime.StateReportFunc) *Supervisor {
	s := &Supervisor{
		connector: connector,
		report:    report,
		commands:  make(chan runtime.WorkloadCommand, commandBufferSize),
		restarts:  make(chan struct{}, 1),
		logger:    log.WithInstance(spec.InstanceName.String()),
	}
	go s.run(ctx, spec, workloadID, controlInterfacePath)
	return s
}

// SpawnHandle adapts Spawn to the runtime.Spawner signature so a
// runtime.GenericFacade can construct a Supervisor without importing this
// package directly (avoiding an import cycle, since this package already
// imports runtime for the Connector/StateChecker contracts).
func SpawnHandle(ctx context.Context, connector runtime.Connector, spec types.WorkloadSpec, workloadID, controlInterfacePath string, report runtime.StateReportFunc) runtime.WorkloadHandle {
	return Spawn(ctx, connector, spec, workloadID, controlInterfacePath, report)
}

// wrapReport forwards every state to the owner via s.report, and in
// addition signals the supervisor loop to restart the workload when the
// reported state is terminal and policy calls for a restart.
func (s *Supervisor) wrapReport(policy types.RestartPolicy) runtime.StateReportFunc {
	return func(ws types.WorkloadState) {
		s.report(ws)

		restart := false
		switch ws.ExecutionState.State {
		case types.ExecFailed:
			restart = policy == types.RestartOnFailure || policy == types.RestartAlways
		case types.ExecSucceeded:
			restart = policy == types.RestartAlways
		}
		if !restart {
			return
		}
		select {
		case s.restarts <- struct{}{}:
		default:
		}
	}
}

// Send delivers a command to the supervisor's loop. It blocks if the
// command buffer is full, exerting backpressure on the caller rather than
// dropping the request.
func (s *Supervisor) Send(cmd runtime.WorkloadCommand) {
	s.commands <- cmd
}

func (s *Supervisor) run(ctx context.Context, spec types.WorkloadSpec, workloadID, controlInterfacePath string) {
	current := spec
	id := workloadID
	ctlPath := controlInterfacePath

	report := s.wrapReport(current.Restart)
	checker, err := s.connector.StartChecker(ctx, id, current, report)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to start state checker")
		return
	}

	for {
		select {
		case cmd, more := <-s.commands:
			if !more {
				s.teardown(ctx, checker, id)
				return
			}
			switch cmd.Kind {
			case runtime.WorkloadUpdate:
				checker.Stop()
				report(types.WorkloadState{
					InstanceName:   current.InstanceName,
					ExecutionState: types.ExecutionState{State: types.ExecStopping},
				})
				if err := s.connector.DeleteWorkload(ctx, id); err != nil {
					s.logger.Error().Err(err).Msg("failed to delete workload being replaced")
				}
				current = cmd.NewSpec
				ctlPath = cmd.NewCtlPath
				report = s.wrapReport(current.Restart)
				newID, err := s.connector.CreateWorkload(ctx, current, ctlPath)
				if err != nil {
					s.logger.Error().Err(err).Msg("failed to create replacement workload")
					return
				}
				id = newID
				report(types.WorkloadState{
					InstanceName:   current.InstanceName,
					ExecutionState: types.ExecutionState{State: types.ExecStarting},
				})
				checker, err = s.connector.StartChecker(ctx, id, current, report)
				if err != nil {
					s.logger.Error().Err(err).Msg("failed to restart state checker for replacement")
					return
				}
			case runtime.WorkloadDelete:
				s.teardown(ctx, checker, id)
				return
			}
		case <-s.restarts:
			s.logger.Info().Msg("restarting workload per restart policy")
			checker.Stop()
			if err := s.connector.DeleteWorkload(ctx, id); err != nil {
				s.logger.Error().Err(err).Msg("failed to delete workload before restart")
			}
			newID, err := s.connector.CreateWorkload(ctx, current, ctlPath)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to recreate workload for restart")
				return
			}
			id = newID
			checker, err = s.connector.StartChecker(ctx, id, current, report)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to restart state checker after restart")
				return
			}
		case <-ctx.Done():
			s.teardown(ctx, checker, id)
			return
		}
	}
}

func (s *Supervisor) teardown(ctx context.Context, checker runtime.StateChecker, workloadID string) {
	checker.Stop()
	if err := s.connector.DeleteWorkload(ctx, workloadID); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete workload during teardown")
	}
}
