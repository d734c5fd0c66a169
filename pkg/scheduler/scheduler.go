// Package scheduler holds workload operations whose dependencies are not
// yet satisfied and releases them once the state store says they are.
package scheduler

import (
	"sync"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/statestore"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler splits incoming WorkloadOperations into those ready to execute
// now and those waiting on an AddCondition or DeleteCondition, and releases
// waiting operations once the state store reports their dependency met.
//
// It holds no reference to the state store between calls: every method
// takes the store explicitly, so the caller's AgentManager loop remains the
// sole owner of both.
type Scheduler struct {
	mu          sync.Mutex
	startQueue  map[string]types.WorkloadOperation
	deleteQueue map[string]types.WorkloadOperation
	logger      zerolog.Logger
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		startQueue:  make(map[string]types.WorkloadOperation),
		deleteQueue: make(map[string]types.WorkloadOperation),
		logger:      log.WithComponent("scheduler"),
	}
}

// operationName returns the workload name an operation is keyed by in the
// waiting queues, regardless of which variant it is.
func operationName(op types.WorkloadOperation) string {
	switch op.Kind {
	case types.OpCreate:
		return op.Create.WorkloadSpec.Name()
	case types.OpUpdate:
		return op.Update.Name()
	case types.OpUpdateDeleteOnly:
		return op.UpdateDeleteOnly.Name()
	case types.OpDelete:
		return op.Delete.Name()
	default:
		return ""
	}
}

// OperationInstanceName returns the workload instance name an operation
// acts on, regardless of which variant it is. Exported so callers can
// report a state (e.g. Pending/WaitingToFulfillDependencies) against an
// operation this package only hands back as queued, never released.
func OperationInstanceName(op types.WorkloadOperation) types.WorkloadInstanceName {
	switch op.Kind {
	case types.OpCreate:
		return op.Create.WorkloadSpec.InstanceName
	case types.OpUpdate:
		return op.Update.InstanceName
	case types.OpUpdateDeleteOnly:
		return op.UpdateDeleteOnly.InstanceName
	case types.OpDelete:
		return op.Delete.InstanceName
	default:
		return types.WorkloadInstanceName{}
	}
}

// addDependencies returns the AddCondition dependencies that gate starting
// op. Only a bare Create is gated this way; an Update gates on the delete
// side instead (see deleteDependencies), since the replacement must not
// start until the instance it replaces is in a deletable state.
func addDependencies(op types.WorkloadOperation) map[string]types.AddCondition {
	switch op.Kind {
	case types.OpCreate:
		return op.Create.WorkloadSpec.Dependencies
	default:
		return nil
	}
}

// deleteDependencies returns the DeleteCondition dependencies that gate
// tearing down op, for the variants that remove a workload, and for Update:
// an Update carries the old instance's delete conditions in
// UpdateDeleteOnly, and gates on those rather than the new spec's own
// AddConditions.
func deleteDependencies(op types.WorkloadOperation) map[string]types.DeleteCondition {
	switch op.Kind {
	case types.OpUpdate, types.OpUpdateDeleteOnly:
		return op.UpdateDeleteOnly.Dependencies
	case types.OpDelete:
		return op.Delete.Dependencies
	default:
		return nil
	}
}

func allAddConditionsFulfilled(deps map[string]types.AddCondition, store *statestore.Store) bool {
	for dependencyName, condition := range deps {
		if !store.AddConditionFulfilled(dependencyName, condition) {
			return false
		}
	}
	return true
}

func allDeleteConditionsFulfilled(deps map[string]types.DeleteCondition, store *statestore.Store) bool {
	for dependencyName, condition := range deps {
		if !store.DeleteConditionFulfilled(dependencyName, condition) {
			return false
		}
	}
	return true
}

// isReady reports whether op's dependencies, if any, are currently
// satisfied according to store. An Update is gated entirely on the delete
// side: the workload being replaced must be deletable before the
// replacement runs, per deleteDependencies.
func isReady(op types.WorkloadOperation, store *statestore.Store) bool {
	switch op.Kind {
	case types.OpCreate:
		return allAddConditionsFulfilled(addDependencies(op), store)
	case types.OpUpdate, types.OpUpdateDeleteOnly, types.OpDelete:
		return allDeleteConditionsFulfilled(deleteDependencies(op), store)
	default:
		return true
	}
}

// queueFor returns the waiting queue op belongs in. Update is queued with
// the deletes, since it is gated on the delete side of the replacement.
func (s *Scheduler) queueFor(op types.WorkloadOperation) map[string]types.WorkloadOperation {
	switch op.Kind {
	case types.OpCreate:
		return s.startQueue
	default:
		return s.deleteQueue
	}
}

// Enqueue splits operations into those ready to run immediately and those
// that must wait, recording the latter internally. It returns only the
// operations ready now; callers must also call NextReady on later state
// changes to pick up operations that become ready afterward.
func (s *Scheduler) Enqueue(operations []types.WorkloadOperation, store *statestore.Store) []types.WorkloadOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []types.WorkloadOperation
	for _, op := range operations {
		if isReady(op, store) {
			ready = append(ready, op)
			continue
		}
		name := operationName(op)
		s.queueFor(op)[name] = op
		s.logger.Debug().Str("workload_name", name).Int("kind", int(op.Kind)).Msg("operation queued pending dependencies")
	}
	return ready
}

// NextReady scans both waiting queues against the current state of store
// and returns, removing from the queues, every operation whose dependencies
// are now satisfied.
func (s *Scheduler) NextReady(store *statestore.Store) []types.WorkloadOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []types.WorkloadOperation
	ready = append(ready, s.drainReady(s.startQueue, store)...)
	ready = append(ready, s.drainReady(s.deleteQueue, store)...)
	return ready
}

func (s *Scheduler) drainReady(queue map[string]types.WorkloadOperation, store *statestore.Store) []types.WorkloadOperation {
	var ready []types.WorkloadOperation
	for name, op := range queue {
		if isReady(op, store) {
			ready = append(ready, op)
			delete(queue, name)
		}
	}
	return ready
}

// PendingCount reports how many operations are currently queued waiting on
// a dependency, across both queues. Intended for metrics.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.startQueue) + len(s.deleteQueue)
}
