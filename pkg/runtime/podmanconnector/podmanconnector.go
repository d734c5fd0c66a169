// Package podmanconnector implements runtime.Connector by shelling out to
// the podman CLI, the connector of choice when no containerd daemon is
// available on the host.
package podmanconnector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// podmanBinary is the CLI executable this connector shells out to.
const podmanBinary = "podman"

// Connector implements runtime.Connector over the podman CLI. Every
// workload instance becomes one podman container named after the
// instance's own string rendering, so its identity survives an agent
// restart without side metadata.
type Connector struct {
	binary string
	logger zerolog.Logger
}

// New returns a Connector that invokes the podman binary found on PATH.
func New() *Connector {
	return &Connector{
		binary: podmanBinary,
		logger: log.WithComponent("podman_connector"),
	}
}

// Name identifies this connector to runtime.Facade and log fields.
func (c *Connector) Name() string { return "podman" }

// run executes a podman subcommand, optionally piping in via stdin, and
// returns its captured stdout with surrounding whitespace trimmed. Any
// non-zero exit is turned into an error carrying stderr, matching the CLI
// wrapper's job of turning process exit codes into Go errors instead of
// leaving callers to parse exec.ExitError themselves.
func (c *Connector) run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("podman %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GetReusableWorkloads lists every running container whose name parses as
// a WorkloadInstanceName for agentName, so an agent restart can adopt
// podman containers it started in a previous run.
func (c *Connector) GetReusableWorkloads(ctx context.Context, agentName string) ([]runtime.ReusableWorkloadState, error) {
	out, err := c.run(ctx, "", "ps", "--filter", "name=."+agentName, "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	if out == "" {
		return nil, nil
	}

	var reusable []runtime.ReusableWorkloadState
	for _, name := range strings.Split(out, "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		instanceName, err := types.ParseWorkloadInstanceName(name)
		if err != nil || instanceName.AgentName() != agentName {
			continue
		}
		reusable = append(reusable, runtime.ReusableWorkloadState{InstanceName: instanceName, WorkloadID: name})
	}
	return reusable, nil
}

// hasImage reports whether imageRef is already present in local storage,
// so CreateWorkload only pulls images it does not already have.
func (c *Connector) hasImage(ctx context.Context, imageRef string) (bool, error) {
	out, err := c.run(ctx, "", "images", "--filter", "reference="+imageRef, "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == imageRef {
			return true, nil
		}
	}
	return false, nil
}

func (c *Connector) pullImage(ctx context.Context, imageRef string) error {
	c.logger.Debug().Str("image", imageRef).Msg("pulling image")
	_, err := c.run(ctx, "", "pull", imageRef)
	return err
}

// kubeManifest reports whether runtimeConfig holds a Kubernetes pod
// manifest rather than a bare image reference, and returns it trimmed.
// PodmanKube workloads carry their manifest this way instead of an image
// reference, per the runtime's own {Podman, PodmanKube} split.
func kubeManifest(runtimeConfig string) (string, bool) {
	trimmed := strings.TrimSpace(runtimeConfig)
	if strings.HasPrefix(trimmed, "apiVersion:") {
		return trimmed, true
	}
	return "", false
}

// CreateWorkload pulls spec's image reference if not already present and
// runs it detached under a container name equal to the instance's string
// rendering. If spec carries a Kubernetes pod manifest instead (see
// kubeManifest), it is applied with `podman kube play` rather than `podman
// run`; the manifest's pod name must equal the instance name so every
// other method here can keep addressing the workload by that one name.
func (c *Connector) CreateWorkload(ctx context.Context, spec types.WorkloadSpec, controlInterfacePath string) (string, error) {
	workloadID := spec.InstanceName.String()

	if manifest, ok := kubeManifest(spec.RuntimeConfig); ok {
		if _, err := c.playKube(ctx, manifest); err != nil {
			return "", fmt.Errorf("play kube manifest for %s: %w", workloadID, err)
		}
		c.logger.Info().Str("workload_id", workloadID).Msg("workload pod started from kube manifest")
		return workloadID, nil
	}

	imageRef := strings.TrimSpace(spec.RuntimeConfig)
	if imageRef == "" {
		return "", fmt.Errorf("podman connector requires a non-empty image reference or kube manifest in runtime config")
	}

	present, err := c.hasImage(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("check for local image %s: %w", imageRef, err)
	}
	if !present {
		if err := c.pullImage(ctx, imageRef); err != nil {
			return "", fmt.Errorf("pull image %s: %w", imageRef, err)
		}
	}

	args := []string{"run", "--detach", "--name", workloadID}
	if controlInterfacePath != "" {
		args = append(args, "--env", "ANKAGENT_CONTROL_INTERFACE="+controlInterfacePath)
	}
	args = append(args, imageRef)

	if _, err := c.run(ctx, "", args...); err != nil {
		return "", fmt.Errorf("run container %s: %w", workloadID, err)
	}

	c.logger.Info().Str("workload_id", workloadID).Str("image", imageRef).Msg("workload container started")
	return workloadID, nil
}

// GetWorkloadID resolves the podman container name for instanceName. Since
// this connector names containers after the instance's own string
// rendering, the lookup only confirms the container still exists.
func (c *Connector) GetWorkloadID(ctx context.Context, instanceName types.WorkloadInstanceName) (string, error) {
	name := instanceName.String()
	out, err := c.run(ctx, "", "ps", "-a", "--filter", "name="+name, "--format", "{{.Names}}")
	if err != nil {
		return "", fmt.Errorf("look up container %s: %w", name, err)
	}
	if !strings.Contains(out, name) {
		return "", fmt.Errorf("no podman container named %s", name)
	}
	return name, nil
}

// StartChecker starts a runtime.PollingStateChecker over this connector's
// own GetState, since the podman CLI exposes no push-based state stream.
func (c *Connector) StartChecker(ctx context.Context, workloadID string, spec types.WorkloadSpec, report runtime.StateReportFunc) (runtime.StateChecker, error) {
	return runtime.StartPolling(ctx, c, workloadID, spec.InstanceName, report, runtime.DefaultPollInterval), nil
}

// GetState implements runtime.StateGetter by inspecting the container's
// reported status and exit code.
func (c *Connector) GetState(ctx context.Context, workloadID string) (types.ExecutionState, error) {
	status, err := c.run(ctx, "", "inspect", workloadID, "--format", "{{.State.Status}}")
	if err != nil {
		return types.ExecutionState{State: types.ExecRemoved}, nil
	}

	switch status {
	case "running":
		return types.ExecutionState{State: types.ExecRunning}, nil
	case "created", "configured":
		return types.ExecutionState{State: types.ExecStarting}, nil
	case "paused":
		return types.ExecutionState{State: types.ExecRunning}, nil
	case "exited", "stopped":
		exitCode, err := c.run(ctx, "", "inspect", workloadID, "--format", "{{.State.ExitCode}}")
		if err != nil {
			return types.ExecutionState{}, fmt.Errorf("inspect exit code for %s: %w", workloadID, err)
		}
		code, convErr := strconv.Atoi(exitCode)
		if convErr == nil && code == 0 {
			return types.ExecutionState{State: types.ExecSucceeded}, nil
		}
		return types.ExecutionState{State: types.ExecFailed, AdditionalInfo: "exit code " + exitCode}, nil
	default:
		return types.ExecutionState{State: types.ExecPending}, nil
	}
}

// DeleteWorkload force-removes the named container, stopping it first if
// still running.
func (c *Connector) DeleteWorkload(ctx context.Context, workloadID string) error {
	if _, err := c.run(ctx, "", "rm", "--force", workloadID); err != nil {
		return fmt.Errorf("remove container %s: %w", workloadID, err)
	}
	return nil
}

// FetchLogs returns workloadID's combined stdout/stderr via `podman logs`.
func (c *Connector) FetchLogs(ctx context.Context, workloadID string, opts runtime.LogOptions) (io.ReadCloser, error) {
	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "--follow")
	}
	if opts.TailLines > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.TailLines))
	}
	if !opts.SinceTime.IsZero() {
		args = append(args, "--since", opts.SinceTime.Format("2006-01-02T15:04:05"))
	}
	args = append(args, workloadID)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open log pipe for %s: %w", workloadID, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start podman logs for %s: %w", workloadID, err)
	}
	return &logStream{ReadCloser: stdout, cmd: cmd}, nil
}

// logStream wraps a podman logs subprocess's stdout pipe so Close also
// reaps the process, avoiding a zombie once the caller is done reading.
type logStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *logStream) Close() error {
	closeErr := s.ReadCloser.Close()
	_ = s.cmd.Wait()
	return closeErr
}

// playKube runs a Kubernetes pod manifest via `podman kube play`, reading
// it from stdin rather than a file path, matching how the manifest arrives
// already rendered in memory.
func (c *Connector) playKube(ctx context.Context, manifest string) (string, error) {
	return c.run(ctx, manifest, "kube", "play", "-")
}
