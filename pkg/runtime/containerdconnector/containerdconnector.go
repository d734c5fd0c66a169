// Package containerdconnector implements runtime.Connector over containerd,
// the only runtime connector in this repo backed by a daemon SDK rather than
// a CLI subprocess.
package containerdconnector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace this connector operates
	// under, isolating its containers from any others on the same socket.
	DefaultNamespace = "ankagent"

	// DefaultSocketPath is where the containerd daemon's socket normally
	// lives.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// stopGracePeriod is how long a SIGTERM is given to take effect before
	// this connector escalates to SIGKILL.
	stopGracePeriod = 10 * time.Second
)

// Connector implements runtime.Connector against a containerd daemon.
// Every workload instance becomes one containerd container plus one task;
// the container's ID is the workload ID the rest of the agent tracks.
type Connector struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// New dials the containerd socket at socketPath (DefaultSocketPath if
// empty) and returns a Connector scoped to DefaultNamespace.
func New(socketPath string) (*Connector, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}
	return &Connector{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("containerd_connector"),
	}, nil
}

// Close releases the underlying containerd client connection.
func (c *Connector) Close() error {
	return c.client.Close()
}

// Name identifies this connector to runtime.Facade and log fields.
func (c *Connector) Name() string { return "containerd" }

func (c *Connector) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// GetReusableWorkloads lists every container still running in this
// connector's namespace whose name is parseable as a WorkloadInstanceName
// for agentName, so an agent restart can adopt them instead of starting
// duplicates.
func (c *Connector) GetReusableWorkloads(ctx context.Context, agentName string) ([]runtime.ReusableWorkloadState, error) {
	ctx = c.ctx(ctx)
	containers, err := c.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var reusable []runtime.ReusableWorkloadState
	for _, container := range containers {
		instanceName, err := types.ParseWorkloadInstanceName(container.ID())
		if err != nil || instanceName.AgentName() != agentName {
			continue
		}
		reusable = append(reusable, runtime.ReusableWorkloadState{
			InstanceName: instanceName,
			WorkloadID:   container.ID(),
		})
	}
	return reusable, nil
}

// CreateWorkload pulls the configured image, builds an OCI spec from the
// workload's runtime config, and starts the resulting container's task.
// The container ID (and so the workload ID) is the instance name's own
// string rendering, letting GetReusableWorkloads recover it later with no
// side metadata.
func (c *Connector) CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string) (string, error) {
	ctx = c.ctx(ctx)
	workloadID := spec.InstanceName.String()

	imageRef := strings.TrimSpace(spec.RuntimeConfig)
	if imageRef == "" {
		return "", fmt.Errorf("containerd connector requires a non-empty image reference in runtime config")
	}

	image, err := c.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", imageRef, err)
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if controlInterfacePath != "" {
		opts = append(opts, oci.WithEnv([]string{"ANKAGENT_CONTROL_INTERFACE=" + controlInterfacePath}))
	}
	if len(spec.Tags) > 0 {
		opts = append(opts, withTagAnnotations(spec.Tags))
	}

	container, err := c.client.NewContainer(
		ctx,
		workloadID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(workloadID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", workloadID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("create task for %s: %w", workloadID, err)
	}
	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("start task for %s: %w", workloadID, err)
	}

	c.logger.Info().Str("workload_id", workloadID).Str("image", imageRef).Msg("workload container started")
	return workloadID, nil
}

// GetWorkloadID returns the containerd container ID for instanceName.
// Since this connector names containers after the instance's own string
// rendering, the two are the same value; the lookup exists so callers
// don't have to special-case this connector.
func (c *Connector) GetWorkloadID(ctx context.Context, instanceName types.WorkloadInstanceName) (string, error) {
	ctx = c.ctx(ctx)
	if _, err := c.client.LoadContainer(ctx, instanceName.String()); err != nil {
		return "", fmt.Errorf("load container %s: %w", instanceName.String(), err)
	}
	return instanceName.String(), nil
}

// StartChecker starts a runtime.PollingStateChecker backed by this
// connector's own state lookup, since containerd's task.Wait channel is
// one-shot and this repo's supervisor expects a uniform polling contract
// across every connector.
func (c *Connector) StartChecker(ctx context.Context, workloadID string, spec types.WorkloadSpec, report runtime.StateReportFunc) (runtime.StateChecker, error) {
	return runtime.StartPolling(ctx, c, workloadID, spec.InstanceName, report, runtime.DefaultPollInterval), nil
}

// GetState implements runtime.StateGetter, translating a containerd task's
// status into this repo's ExecutionState.
func (c *Connector) GetState(ctx context.Context, workloadID string) (types.ExecutionState, error) {
	ctx = c.ctx(ctx)
	container, err := c.client.LoadContainer(ctx, workloadID)
	if err != nil {
		return types.ExecutionState{State: types.ExecRemoved}, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ExecutionState{State: types.ExecPending}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ExecutionState{}, fmt.Errorf("task status for %s: %w", workloadID, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return types.ExecutionState{State: types.ExecRunning}, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.ExecutionState{State: types.ExecSucceeded}, nil
		}
		return types.ExecutionState{
			State:          types.ExecFailed,
			AdditionalInfo: fmt.Sprintf("exit code %d", status.ExitStatus),
		}, nil
	default:
		return types.ExecutionState{State: types.ExecStarting}, nil
	}
}

// DeleteWorkload stops workloadID's task (SIGTERM, escalating to SIGKILL
// after stopGracePeriod) and removes the container and its snapshot.
func (c *Connector) DeleteWorkload(ctx context.Context, workloadID string) error {
	ctx = c.ctx(ctx)
	container, err := c.client.LoadContainer(ctx, workloadID)
	if err != nil {
		return nil // already gone
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if err := c.stopTask(ctx, task); err != nil {
			c.logger.Warn().Err(err).Str("workload_id", workloadID).Msg("failed to stop task cleanly before delete")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", workloadID, err)
	}
	return nil
}

func (c *Connector) stopTask(ctx context.Context, task containerd.Task) error {
	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}
	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait for task exit: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
	}
	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// FetchLogs is not implemented for the containerd connector: this repo's
// logfetch layer is written to tolerate a connector declining logs, the
// way the podman connector's CLI-backed FetchLogs is the only one that
// actually returns a stream.
func (c *Connector) FetchLogs(ctx context.Context, workloadID string, opts runtime.LogOptions) (io.ReadCloser, error) {
	return nil, fmt.Errorf("containerd connector does not support log fetching")
}

// withTagAnnotations stamps a workload's tags onto the OCI spec as
// annotations, so external tooling inspecting the container (ctr,
// crictl) can recover the same key/value pairs the agent schedules on.
func withTagAnnotations(tags []types.Tag) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		if s.Annotations == nil {
			s.Annotations = make(map[string]string, len(tags))
		}
		for _, tag := range tags {
			s.Annotations[tag.Key] = tag.Value
		}
		return nil
	}
}
