package runtime

import (
	"context"
	"time"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// PollingStateChecker is a StateChecker for runtimes with no push-based
// state notification (podman's CLI, most subprocess-backed connectors): it
// polls a StateGetter on a ticker and reports the state whenever it
// changes, so the agent is not flooded with duplicate reports for a
// workload sitting still in Running.
type PollingStateChecker struct {
	getter       StateGetter
	workloadID   string
	instanceName types.WorkloadInstanceName
	report       StateReportFunc
	interval     time.Duration
	logger       zerolog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// StartPolling begins polling getter for workloadID's state every interval
// and returns the running checker. Stop must be called to release it.
func StartPolling(ctx context.Context, getter StateGetter, workloadID string, instanceName types.WorkloadInstanceName, report StateReportFunc, interval time.Duration) *PollingStateChecker {
	c := &PollingStateChecker{
		getter:       getter,
		workloadID:   workloadID,
		instanceName: instanceName,
		report:       report,
		interval:     interval,
		logger:       log.WithInstance(instanceName.String()),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *PollingStateChecker) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var lastState types.ExecutionState
	haveLastState := false

	for {
		select {
		case <-ticker.C:
			state, err := c.getter.GetState(ctx, c.workloadID)
			if err != nil {
				c.logger.Warn().Err(err).Msg("failed to poll workload state")
				continue
			}
			if haveLastState && state == lastState {
				continue
			}
			lastState = state
			haveLastState = true
			c.report(types.WorkloadState{InstanceName: c.instanceName, ExecutionState: state})
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the poll loop and waits for it to exit.
func (c *PollingStateChecker) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
