// Package statestore holds the last reported ExecutionState of every
// workload the agent currently knows about.
package statestore

import (
	"sync"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// entry is what the store keeps per workload name: its execution state and
// the agent that reported it. The instance id is deliberately not part of
// the key — dependency lookups address workloads by name only.
type entry struct {
	state     types.ExecutionState
	agentName string
}

// Store is the single source of truth the dependency scheduler consults to
// decide whether a waiting workload's AddCondition/DeleteCondition has been
// met. It is intended to be owned exclusively by one AgentManager loop;
// the mutex exists to let read-only callers (the control interface's state
// request handler) query it concurrently with that loop's own writes.
type Store struct {
	mu     sync.RWMutex
	states map[string]entry
	logger zerolog.Logger
}

// New creates an empty state store.
func New() *Store {
	return &Store{
		states: make(map[string]entry),
		logger: log.WithComponent("statestore"),
	}
}

// Update applies a WorkloadState report. A report whose State is ExecRemoved
// erases the workload's entry instead of recording it, so that a later
// dependency lookup for that name behaves as if it had never run.
func (s *Store) Update(ws types.WorkloadState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := ws.InstanceName.WorkloadName()
	if ws.ExecutionState.State == types.ExecRemoved {
		delete(s.states, name)
		s.logger.Debug().Str("workload_name", name).Msg("workload state removed")
		return
	}

	s.states[name] = entry{state: ws.ExecutionState, agentName: ws.InstanceName.AgentName()}
	s.logger.Debug().
		Str("workload_name", name).
		Str("state", ws.ExecutionState.State.String()).
		Msg("workload state updated")
}

// StateOf returns the last reported execution state of workloadName and
// whether an entry exists at all. A missing entry means the workload has
// never reported a state, or was last reported Removed.
func (s *Store) StateOf(workloadName string) (types.ExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.states[workloadName]
	if !ok {
		return types.ExecutionState{}, false
	}
	return e.state, true
}

// AgentOf returns the agent that last reported a state for workloadName.
func (s *Store) AgentOf(workloadName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.states[workloadName]
	if !ok {
		return "", false
	}
	return e.agentName, true
}

// Len returns the number of workloads currently tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// AddConditionFulfilled reports whether the dependency named by
// dependencyName currently satisfies condition. A dependency with no
// recorded state (never started, or removed) never fulfills a condition.
func (s *Store) AddConditionFulfilled(dependencyName string, condition types.AddCondition) bool {
	state, ok := s.StateOf(dependencyName)
	if !ok {
		return false
	}
	return condition.Fulfilled(state.State)
}

// DeleteConditionFulfilled reports whether the dependency named by
// dependencyName currently satisfies condition. Unlike AddConditionFulfilled,
// a dependency with no recorded state fulfills a delete condition rather than
// blocking it: a workload that never started (or has already been removed)
// cannot hold up the removal of something that depends on it. A dependency
// still Pending is treated the same way, since two workloads depending on
// each other across an update would otherwise deadlock waiting on one
// another's delete.
func (s *Store) DeleteConditionFulfilled(dependencyName string, condition types.DeleteCondition) bool {
	state, ok := s.StateOf(dependencyName)
	if !ok || state.State == types.ExecPending {
		return true
	}
	return condition.Fulfilled(state.State)
}
