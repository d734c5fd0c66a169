package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/ankagent/pkg/agent"
	"github.com/cuemby/ankagent/pkg/agentconfig"
	"github.com/cuemby/ankagent/pkg/agentmetrics"
	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/runtime"
	"github.com/cuemby/ankagent/pkg/runtime/containerdconnector"
	"github.com/cuemby/ankagent/pkg/runtime/podmanconnector"
	"github.com/cuemby/ankagent/pkg/supervisor"
	"github.com/cuemby/ankagent/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg agentconfig.Config

var rootCmd = &cobra.Command{
	Use:     "ankagent",
	Short:   "ankagent - agent-core process for a single cluster node",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ankagent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	agentconfig.BindFlags(rootCmd, &cfg)
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect to the server and run this agent's workloads until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		facades, connectors, err := buildRuntimes(cfg)
		if err != nil {
			return fmt.Errorf("build runtime connectors: %w", err)
		}

		fmt.Printf("Connecting to server at %s as %q...\n", cfg.ServerAddress, cfg.AgentName)
		stream, err := transport.Dial(ctx, cfg.ServerAddress)
		if err != nil {
			return fmt.Errorf("dial server: %w", err)
		}
		defer stream.Close()
		fmt.Println("✓ Connected to server")

		go func() {
			http.Handle("/metrics", agentmetrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, nil); err != nil {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.MetricsAddress)

		mgr := agent.New(cfg.AgentName, cfg.RunFolder, facades, connectors, stream)

		errCh := make(chan error, 1)
		go func() {
			errCh <- mgr.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Println("Agent is running. Press Ctrl+C to stop.")

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			cancel()
			<-errCh
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				return fmt.Errorf("agent stopped: %w", err)
			}
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// buildRuntimes constructs a RuntimeFacade/Connector pair for every runtime
// this agent process supports, keyed by the name a WorkloadSpec.Runtime
// selects. Only the containerd connector can fail to build (no containerd
// socket reachable); it is then skipped rather than failing startup. The
// podman connector is always registered, whether or not a podman binary is
// on $PATH.
func buildRuntimes(cfg agentconfig.Config) (map[string]runtime.Facade, map[string]runtime.Connector, error) {
	facades := make(map[string]runtime.Facade)
	connectors := make(map[string]runtime.Connector)

	containerdConn, err := containerdconnector.New(cfg.ContainerdSocket)
	if err != nil {
		fmt.Printf("Warning: containerd runtime unavailable: %v\n", err)
	} else {
		connectors["containerd"] = containerdConn
		facades["containerd"] = runtime.NewGenericFacade(containerdConn, supervisor.SpawnHandle)
	}

	podmanConn := podmanconnector.New()
	connectors["podman"] = podmanConn
	facades["podman"] = runtime.NewGenericFacade(podmanConn, supervisor.SpawnHandle)
	// PodmanKube workloads share the same connector: CreateWorkload
	// dispatches on whether the spec carries an image reference or a pod
	// manifest, so the one binary-backed connector serves both runtime
	// names a WorkloadSpec.Runtime may select.
	facades["podmankube"] = facades["podman"]
	connectors["podmankube"] = podmanConn

	if len(facades) == 0 {
		return nil, nil, fmt.Errorf("no runtime connectors available")
	}
	return facades, connectors, nil
}
