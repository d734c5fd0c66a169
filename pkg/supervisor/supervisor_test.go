package supervisor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/types"
)

// fakeChecker is a no-op StateChecker; tests drive state transitions by
// calling the report function directly instead of waiting on a poller.
type fakeChecker struct{}

func (fakeChecker) Stop() {}

type fakeConnector struct {
	mu          sync.Mutex
	createCalls int
	deleteCalls int
	nextID      int
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) GetReusableWorkloads(ctx context.Context, agentName string) ([]runtime.ReusableWorkloadState, error) {
	return nil, nil
}

func (f *fakeConnector) CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	return "id-" + spec.Name(), nil
}

func (f *fakeConnector) GetWorkloadID(ctx context.Context, instanceName types.WorkloadInstanceName) (string, error) {
	return "id-" + instanceName.WorkloadName(), nil
}

func (f *fakeConnector) StartChecker(ctx context.Context, workloadID string, spec types.WorkloadSpec, report runtime.StateReportFunc) (runtime.StateChecker, error) {
	return fakeChecker{}, nil
}

func (f *fakeConnector) DeleteWorkload(ctx context.Context, workloadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return nil
}

func (f *fakeConnector) FetchLogs(ctx context.Context, workloadID string, opts runtime.LogOptions) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeConnector) counts() (creates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.deleteCalls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisor_DeleteTearsDownWorkload(t *testing.T) {
	conn := &fakeConnector{}
	spec := types.WorkloadSpec{InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg")}
	ctx := context.Background()

	var reported []types.WorkloadState
	var mu sync.Mutex
	report := func(ws types.WorkloadState) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, ws)
	}

	s := Spawn(ctx, conn, spec, "id-w1", "", report)
	s.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadDelete})

	waitFor(t, func() bool {
		_, deletes := conn.counts()
		return deletes == 1
	})
}

func TestSupervisor_UpdateReplacesWorkload(t *testing.T) {
	conn := &fakeConnector{}
	spec := types.WorkloadSpec{InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg")}
	ctx := context.Background()

	var reported []types.WorkloadState
	var mu sync.Mutex
	report := func(ws types.WorkloadState) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, ws)
	}
	s := Spawn(ctx, conn, spec, "id-w1", "", report)

	newSpec := types.WorkloadSpec{InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg2")}
	s.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadUpdate, NewSpec: newSpec})

	waitFor(t, func() bool {
		creates, deletes := conn.counts()
		return creates == 1 && deletes == 1
	})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 2
	})

	mu.Lock()
	states := append([]types.WorkloadState{}, reported...)
	mu.Unlock()

	if states[0].InstanceName != spec.InstanceName || states[0].ExecutionState.State != types.ExecStopping {
		t.Errorf("first reported state = %+v, want Stopping on the old instance %v", states[0], spec.InstanceName)
	}
	if states[1].InstanceName != newSpec.InstanceName || states[1].ExecutionState.State != types.ExecStarting {
		t.Errorf("second reported state = %+v, want Starting on the new instance %v", states[1], newSpec.InstanceName)
	}

	s.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadDelete})
	waitFor(t, func() bool {
		_, deletes := conn.counts()
		return deletes == 2
	})
}

func TestSupervisor_RestartsOnFailureWhenPolicyAllows(t *testing.T) {
	conn := &fakeConnector{}
	spec := types.WorkloadSpec{
		InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg"),
		Restart:      types.RestartOnFailure,
	}
	ctx := context.Background()

	var reports []types.WorkloadState
	var mu sync.Mutex
	report := func(ws types.WorkloadState) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, ws)
	}

	s := Spawn(ctx, conn, spec, "id-w1", "", report)

	s.wrapReport(spec.Restart)(types.WorkloadState{
		InstanceName:   spec.InstanceName,
		ExecutionState: types.ExecutionState{State: types.ExecFailed},
	})

	waitFor(t, func() bool {
		creates, deletes := conn.counts()
		return creates == 1 && deletes == 1
	})

	s.Send(runtime.WorkloadCommand{Kind: runtime.WorkloadDelete})
}
