package statestore

import (
	"testing"

	"github.com/cuemby/ankagent/pkg/types"
)

func workloadState(workload, agent string, state types.ExecutionStateEnum) types.WorkloadState {
	return types.WorkloadState{
		InstanceName:   types.NewWorkloadInstanceName(workload, agent, "config"),
		ExecutionState: types.ExecutionState{State: state},
	}
}

func TestUpdate_EmptyStoreAddsOne(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Fatalf("new store Len() = %d, want 0", s.Len())
	}

	s.Update(workloadState("test_workload", "test_agent", types.ExecRunning))

	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	state, ok := s.StateOf("test_workload")
	if !ok {
		t.Fatal("StateOf() ok = false, want true")
	}
	if state.State != types.ExecRunning {
		t.Errorf("StateOf() = %v, want ExecRunning", state.State)
	}

	agent, ok := s.AgentOf("test_workload")
	if !ok || agent != "test_agent" {
		t.Errorf("AgentOf() = (%q, %v), want (\"test_agent\", true)", agent, ok)
	}
}

func TestUpdate_RemovedErasesEntry(t *testing.T) {
	s := New()
	s.Update(workloadState("test_workload", "test_agent", types.ExecRunning))
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	s.Update(workloadState("test_workload", "test_agent", types.ExecRemoved))

	if got := s.Len(); got != 0 {
		t.Fatalf("Len() after removal = %d, want 0", got)
	}
	if _, ok := s.StateOf("test_workload"); ok {
		t.Error("StateOf() after removal ok = true, want false")
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	s := New()
	update := workloadState("test_workload", "test_agent", types.ExecRunning)

	s.Update(update)
	s.Update(update)
	s.Update(update)

	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestUpdate_OverwritesPreviousState(t *testing.T) {
	s := New()
	s.Update(workloadState("test_workload", "test_agent", types.ExecRunning))
	s.Update(workloadState("test_workload", "test_agent", types.ExecSucceeded))

	state, ok := s.StateOf("test_workload")
	if !ok {
		t.Fatal("StateOf() ok = false, want true")
	}
	if state.State != types.ExecSucceeded {
		t.Errorf("StateOf() = %v, want ExecSucceeded", state.State)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestUpdate_MultipleWorkloadsTrackedIndependently(t *testing.T) {
	s := New()
	s.Update(workloadState("workload_1", "agent_a", types.ExecRunning))
	s.Update(workloadState("workload_2", "agent_a", types.ExecFailed))
	s.Update(workloadState("workload_1", "agent_b", types.ExecSucceeded))
	s.Update(workloadState("workload_2", "agent_b", types.ExecStarting))

	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	state1, _ := s.StateOf("workload_1")
	if state1.State != types.ExecSucceeded {
		t.Errorf("StateOf(workload_1) = %v, want ExecSucceeded", state1.State)
	}
	agent1, _ := s.AgentOf("workload_1")
	if agent1 != "agent_b" {
		t.Errorf("AgentOf(workload_1) = %q, want \"agent_b\"", agent1)
	}

	state2, _ := s.StateOf("workload_2")
	if state2.State != types.ExecStarting {
		t.Errorf("StateOf(workload_2) = %v, want ExecStarting", state2.State)
	}
}

func TestAddConditionFulfilled_MissingDependencyNeverFulfilled(t *testing.T) {
	s := New()
	if s.AddConditionFulfilled("never_started", types.AddCondRunning) {
		t.Error("AddConditionFulfilled() for an unknown workload = true, want false")
	}
}

func TestAddConditionFulfilled(t *testing.T) {
	s := New()
	s.Update(workloadState("dep", "agent_a", types.ExecRunning))

	if !s.AddConditionFulfilled("dep", types.AddCondRunning) {
		t.Error("AddConditionFulfilled(AddCondRunning) = false, want true")
	}
	if s.AddConditionFulfilled("dep", types.AddCondSucceeded) {
		t.Error("AddConditionFulfilled(AddCondSucceeded) = true, want false")
	}
}

func TestDeleteConditionFulfilled(t *testing.T) {
	s := New()
	s.Update(workloadState("dep", "agent_a", types.ExecSucceeded))

	if !s.DeleteConditionFulfilled("dep", types.DelCondNotPendingNorRunning) {
		t.Error("DeleteConditionFulfilled(DelCondNotPendingNorRunning) = false, want true")
	}
	if s.DeleteConditionFulfilled("dep", types.DelCondRunning) {
		t.Error("DeleteConditionFulfilled(DelCondRunning) = true, want false")
	}
}

func TestDeleteConditionFulfilled_MissingDependencyNeverBlocksDelete(t *testing.T) {
	s := New()
	if !s.DeleteConditionFulfilled("never_started", types.DelCondRunning) {
		t.Error("DeleteConditionFulfilled() for an unknown workload = false, want true: an absent dependency cannot block a delete")
	}
}

func TestDeleteConditionFulfilled_PendingDependencyNeverBlocksDelete(t *testing.T) {
	s := New()
	s.Update(workloadState("dep", "agent_a", types.ExecPending))

	if !s.DeleteConditionFulfilled("dep", types.DelCondRunning) {
		t.Error("DeleteConditionFulfilled() for a Pending dependency = false, want true: a pending dependent cannot block a delete")
	}
}
