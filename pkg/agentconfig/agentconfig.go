// Package agentconfig holds the AgentManager's own startup configuration
// and the cobra flag bindings cmd/ankagent populates it from, mirroring
// the teacher's manager/worker Config structs and its root command's
// persistent-flag style.
package agentconfig

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Config is everything one agent process needs to start: who it is, where
// to reach the server, where its workload run-folder lives, and which
// runtime sockets/binaries its connectors should use.
type Config struct {
	AgentName string
	// ServerAddress is dialed by pkg/transport.Dial to open the agent's
	// Exchange stream with the server.
	ServerAddress string
	// RunFolder roots the per-workload pipes directories control
	// interfaces are created under (spec.md §6's run-folder layout).
	RunFolder string

	// ContainerdSocket, left empty, lets pkg/runtime/containerdconnector
	// auto-detect the system socket the way the teacher's embedded
	// containerd bootstrap does for its own default.
	ContainerdSocket string
	// PodmanBinary is parsed from --podman-binary but is not passed to
	// pkg/runtime/podmanconnector, which always invokes the first "podman"
	// on $PATH.
	PodmanBinary string

	LogLevel       string
	LogJSON        bool
	MetricsAddress string
}

// Validate reports the first missing required field, matching the
// teacher's MarkFlagRequired-backed checks for its own manager/worker
// start commands.
func (c Config) Validate() error {
	if c.AgentName == "" {
		return fmt.Errorf("agent name must not be empty")
	}
	if c.ServerAddress == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if c.RunFolder == "" {
		return fmt.Errorf("run folder must not be empty")
	}
	return nil
}

// BindFlags registers this config's fields as persistent flags on cmd,
// the way the teacher's rootCmd.PersistentFlags() does for log-level/
// log-json. cobra writes parsed values directly into cfg's fields, so
// cfg is valid as soon as cmd's RunE starts.
func BindFlags(cmd *cobra.Command, cfg *Config) {
	cmd.PersistentFlags().StringVar(&cfg.AgentName, "agent-name", "agent_A", "Unique name identifying this agent to the server")
	cmd.PersistentFlags().StringVar(&cfg.ServerAddress, "server-address", "127.0.0.1:25551", "Address of the server's Exchange RPC")
	cmd.PersistentFlags().StringVar(&cfg.RunFolder, "run-folder", "/tmp/ankaios/agent", "Directory workload pipes and control interfaces are created under")
	cmd.PersistentFlags().StringVar(&cfg.ContainerdSocket, "containerd-socket", "", "containerd socket path (auto-detected if empty)")
	cmd.PersistentFlags().StringVar(&cfg.PodmanBinary, "podman-binary", "", "podman binary path (not applied: the podman connector always runs \"podman\" from $PATH)")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&cfg.LogJSON, "log-json", false, "Output logs in JSON format")
	cmd.PersistentFlags().StringVar(&cfg.MetricsAddress, "metrics-address", "127.0.0.1:9090", "Address the Prometheus /metrics endpoint listens on")
}
