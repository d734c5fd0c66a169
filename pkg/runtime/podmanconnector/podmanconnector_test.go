package podmanconnector

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"

	"github.com/cuemby/ankagent/pkg/types"
)

// fakePodman writes an executable shell script standing in for the real
// podman binary, echoing stdout and exiting with the given code depending
// on the arguments it receives. This lets the connector's argument
// building and output parsing be tested without a real podman install.
func fakePodman(t *testing.T, script string) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("fake podman script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "podman")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake podman: %v", err)
	}
	return path
}

func TestGetState_MapsRunning(t *testing.T) {
	bin := fakePodman(t, `echo running`)
	c := &Connector{binary: bin}

	state, err := c.GetState(context.Background(), "any")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.State != types.ExecRunning {
		t.Errorf("GetState().State = %v, want %v", state.State, types.ExecRunning)
	}
}

func TestGetState_InspectFailureMeansRemoved(t *testing.T) {
	bin := fakePodman(t, `echo "no such container" >&2; exit 1`)
	c := &Connector{binary: bin}

	state, err := c.GetState(context.Background(), "gone")
	if err != nil {
		t.Fatalf("GetState() error = %v, want nil (missing container reports ExecRemoved)", err)
	}
	if state.State != types.ExecRemoved {
		t.Errorf("GetState().State = %v, want %v", state.State, types.ExecRemoved)
	}
	if state.AdditionalInfo != "" {
		t.Errorf("AdditionalInfo = %q, want empty", state.AdditionalInfo)
	}
}

func TestHasImage_MatchesExactReference(t *testing.T) {
	bin := fakePodman(t, `echo "myimage:latest"`)
	c := &Connector{binary: bin}

	ok, err := c.hasImage(context.Background(), "myimage:latest")
	if err != nil {
		t.Fatalf("hasImage() error = %v", err)
	}
	if !ok {
		t.Error("hasImage() = false, want true for matching reference")
	}

	ok, err = c.hasImage(context.Background(), "otherimage:latest")
	if err != nil {
		t.Fatalf("hasImage() error = %v", err)
	}
	if ok {
		t.Error("hasImage() = true, want false for non-matching reference")
	}
}

func TestKubeManifest_DetectsManifestVersusImageReference(t *testing.T) {
	if _, ok := kubeManifest("docker.io/library/nginx:latest"); ok {
		t.Error("kubeManifest() = true for a bare image reference, want false")
	}
	manifest, ok := kubeManifest("  apiVersion: v1\nkind: Pod\n")
	if !ok {
		t.Fatal("kubeManifest() = false for a manifest, want true")
	}
	if manifest != "apiVersion: v1\nkind: Pod" {
		t.Errorf("kubeManifest() manifest = %q, want trimmed input", manifest)
	}
}

// TestCreateWorkload_KubeManifestUsesPlayNotRun covers PodmanKube workloads:
// a RuntimeConfig holding a manifest must be applied with `podman kube
// play`, never `podman run`.
func TestCreateWorkload_KubeManifestUsesPlayNotRun(t *testing.T) {
	dir := t.TempDir()
	callsLog := filepath.Join(dir, "calls.log")
	bin := fakePodman(t, "echo \"$1 $2\" >> "+callsLog+"\n")
	c := &Connector{binary: bin}

	spec := types.WorkloadSpec{
		InstanceName:  types.NewWorkloadInstanceName("w1", "agent_A", "cfg"),
		RuntimeConfig: "apiVersion: v1\nkind: Pod\nmetadata:\n  name: w1",
	}

	id, err := c.CreateWorkload(context.Background(), spec, "")
	if err != nil {
		t.Fatalf("CreateWorkload() error = %v", err)
	}
	if id != spec.InstanceName.String() {
		t.Errorf("CreateWorkload() id = %q, want %q", id, spec.InstanceName.String())
	}

	calls, err := os.ReadFile(callsLog)
	if err != nil {
		t.Fatalf("read calls log: %v", err)
	}
	if got := string(calls); got != "kube play\n" {
		t.Errorf("podman invoked with %q, want \"kube play\"", got)
	}
}

func TestRun_NonZeroExitReturnsError(t *testing.T) {
	bin := fakePodman(t, `echo "boom" >&2; exit 7`)
	c := &Connector{binary: bin}

	if _, err := c.run(context.Background(), "", "anything"); err == nil {
		t.Error("run() error = nil, want error on non-zero exit")
	}
}
