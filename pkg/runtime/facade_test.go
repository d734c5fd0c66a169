package runtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/cuemby/ankagent/pkg/types"
)

type fakeHandle struct{}

func (fakeHandle) Send(WorkloadCommand) {}

func fakeSpawn(ctx context.Context, connector Connector, spec types.WorkloadSpec, workloadID, controlInterfacePath string, report StateReportFunc) WorkloadHandle {
	return fakeHandle{}
}

type stubConnector struct {
	mu             sync.Mutex
	getIDErr       error
	deleteErr      error
	createCalls    int
	deleteCalls    int
	lastCreateSpec types.WorkloadSpec
}

func (c *stubConnector) Name() string { return "stub" }

func (c *stubConnector) GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkloadState, error) {
	return nil, nil
}

func (c *stubConnector) CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	c.lastCreateSpec = spec
	return "id-" + spec.Name(), nil
}

func (c *stubConnector) GetWorkloadID(ctx context.Context, instanceName types.WorkloadInstanceName) (string, error) {
	if c.getIDErr != nil {
		return "", c.getIDErr
	}
	return "id-" + instanceName.WorkloadName(), nil
}

func (c *stubConnector) StartChecker(ctx context.Context, workloadID string, spec types.WorkloadSpec, report StateReportFunc) (StateChecker, error) {
	return nil, nil
}

func (c *stubConnector) DeleteWorkload(ctx context.Context, workloadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++
	return c.deleteErr
}

func (c *stubConnector) FetchLogs(ctx context.Context, workloadID string, opts LogOptions) (io.ReadCloser, error) {
	return nil, nil
}

func TestReplaceWorkload_DeleteFailureStillCreatesReplacement(t *testing.T) {
	conn := &stubConnector{deleteErr: errors.New("runtime refused delete")}
	facade := NewGenericFacade(conn, fakeSpawn)

	oldInstance := types.NewWorkloadInstanceName("w1", "agent_A", "cfg1")
	newSpec := types.WorkloadSpec{InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg2")}

	var reported []types.WorkloadState
	report := func(ws types.WorkloadState) { reported = append(reported, ws) }

	handle, err := facade.ReplaceWorkload(context.Background(), oldInstance, newSpec, "", report)
	if err != nil {
		t.Fatalf("ReplaceWorkload() error = %v, want nil: a delete failure must not prevent the replacement from being attempted", err)
	}
	if handle == nil {
		t.Fatal("ReplaceWorkload() handle = nil, want a handle for the new instance")
	}
	if conn.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", conn.createCalls)
	}
	if len(reported) != 1 || reported[0].InstanceName != oldInstance || reported[0].ExecutionState.State != types.ExecFailed {
		t.Errorf("reported = %+v, want a single Failed state for the old instance", reported)
	}
}

func TestReplaceWorkload_SuccessfulDeleteReplacesCleanly(t *testing.T) {
	conn := &stubConnector{}
	facade := NewGenericFacade(conn, fakeSpawn)

	oldInstance := types.NewWorkloadInstanceName("w1", "agent_A", "cfg1")
	newSpec := types.WorkloadSpec{InstanceName: types.NewWorkloadInstanceName("w1", "agent_A", "cfg2")}

	var reported []types.WorkloadState
	report := func(ws types.WorkloadState) { reported = append(reported, ws) }

	if _, err := facade.ReplaceWorkload(context.Background(), oldInstance, newSpec, "", report); err != nil {
		t.Fatalf("ReplaceWorkload() error = %v, want nil", err)
	}
	if conn.deleteCalls != 1 || conn.createCalls != 1 {
		t.Errorf("deleteCalls=%d createCalls=%d, want 1 and 1", conn.deleteCalls, conn.createCalls)
	}
	if len(reported) != 0 {
		t.Errorf("reported = %+v, want no Failed state reported on a clean replacement", reported)
	}
}
