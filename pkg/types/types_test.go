package types

import (
	"encoding/json"
	"testing"
)

func TestNewWorkloadInstanceName(t *testing.T) {
	name := NewWorkloadInstanceName("workload", "agent", "config")

	if got, want := name.WorkloadName(), "workload"; got != want {
		t.Errorf("WorkloadName() = %q, want %q", got, want)
	}
	if got, want := name.AgentName(), "agent"; got != want {
		t.Errorf("AgentName() = %q, want %q", got, want)
	}

	wantHash := "b79606fb3afea5bd1609ed40b622142f1c98125abcfe89a76a661b0e8e343910"
	if got := name.ID(); got != wantHash {
		t.Errorf("ID() = %q, want %q", got, wantHash)
	}

	wantString := "workload." + wantHash + ".agent"
	if got := name.String(); got != wantString {
		t.Errorf("String() = %q, want %q", got, wantString)
	}
}

func TestParseWorkloadInstanceName(t *testing.T) {
	original := NewWorkloadInstanceName("nginx", "agent_A", "image: nginx:latest")

	parsed, err := ParseWorkloadInstanceName(original.String())
	if err != nil {
		t.Fatalf("ParseWorkloadInstanceName() error = %v", err)
	}
	if parsed != original {
		t.Errorf("ParseWorkloadInstanceName() = %+v, want %+v", parsed, original)
	}
}

func TestWorkloadInstanceName_JSONRoundTrip(t *testing.T) {
	original := NewWorkloadInstanceName("nginx", "agent_A", "image: nginx:latest")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got WorkloadInstanceName
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != original {
		t.Errorf("round trip = %+v, want %+v", got, original)
	}
}

func TestParseWorkloadInstanceName_WrongPartCount(t *testing.T) {
	cases := []string{
		"",
		"only_one_part",
		"two.parts",
		"way.too.many.parts",
	}
	for _, c := range cases {
		if _, err := ParseWorkloadInstanceName(c); err == nil {
			t.Errorf("ParseWorkloadInstanceName(%q) expected an error, got nil", c)
		}
	}
}

func TestAddConditionFulfilled(t *testing.T) {
	tests := []struct {
		condition AddCondition
		state     ExecutionStateEnum
		want      bool
	}{
		{AddCondRunning, ExecRunning, true},
		{AddCondRunning, ExecPending, false},
		{AddCondSucceeded, ExecSucceeded, true},
		{AddCondSucceeded, ExecFailed, false},
		{AddCondFailed, ExecFailed, true},
		{AddCondFailed, ExecRunning, false},
	}
	for _, tt := range tests {
		if got := tt.condition.Fulfilled(tt.state); got != tt.want {
			t.Errorf("AddCondition(%v).Fulfilled(%v) = %v, want %v", tt.condition, tt.state, got, tt.want)
		}
	}
}

func TestDeleteConditionFulfilled(t *testing.T) {
	tests := []struct {
		condition DeleteCondition
		state     ExecutionStateEnum
		want      bool
	}{
		{DelCondRunning, ExecRunning, true},
		{DelCondRunning, ExecSucceeded, false},
		{DelCondNotPendingNorRunning, ExecPending, false},
		{DelCondNotPendingNorRunning, ExecRunning, false},
		{DelCondNotPendingNorRunning, ExecSucceeded, true},
		{DelCondNotPendingNorRunning, ExecFailed, true},
	}
	for _, tt := range tests {
		if got := tt.condition.Fulfilled(tt.state); got != tt.want {
			t.Errorf("DeleteCondition(%v).Fulfilled(%v) = %v, want %v", tt.condition, tt.state, got, tt.want)
		}
	}
}

func TestWorkloadOperationConstructors(t *testing.T) {
	instance := NewWorkloadInstanceName("redis", "agent_A", "image: redis")
	spec := WorkloadSpec{InstanceName: instance}
	deleted := DeletedWorkload{InstanceName: instance}

	if op := NewCreateOperation(ReusableWorkloadSpec{WorkloadSpec: spec}); op.Kind != OpCreate {
		t.Errorf("NewCreateOperation: Kind = %v, want OpCreate", op.Kind)
	}
	if op := NewUpdateOperation(spec, deleted); op.Kind != OpUpdate {
		t.Errorf("NewUpdateOperation: Kind = %v, want OpUpdate", op.Kind)
	}
	if op := NewUpdateDeleteOnlyOperation(deleted); op.Kind != OpUpdateDeleteOnly {
		t.Errorf("NewUpdateDeleteOnlyOperation: Kind = %v, want OpUpdateDeleteOnly", op.Kind)
	}
	if op := NewDeleteOperation(deleted); op.Kind != OpDelete {
		t.Errorf("NewDeleteOperation: Kind = %v, want OpDelete", op.Kind)
	}
}
