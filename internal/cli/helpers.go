package cli

import (
	"fmt"

	"github.com/chiral/transferd/internal/daemon"
)

// newDaemon loads config.toml (or defaults) and constructs a Daemon,
// the shared entrypoint every subcommand uses to reach the orchestrator,
// the state DB, and the protocol adapters.
func newDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg)
}

// newDaemonFromConfig constructs a Daemon from an already-loaded config,
// used by subcommands (serve) that apply flag overrides before daemon.New.
func newDaemonFromConfig(cfg daemon.Config) (*daemon.Daemon, error) {
	return daemon.New(cfg)
}

// loadConfigWithOverrides loads config.toml (or defaults) and applies
// serve's --host/--port flags on top.
func loadConfigWithOverrides() (daemon.Config, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return daemon.Config{}, err
	}
	if serveHost != "" {
		cfg.Metrics.Host = serveHost
	}
	if servePort > 0 {
		cfg.Metrics.Port = servePort
	}
	return cfg, nil
}

// humanSize renders a byte count in binary units (KiB/MiB/GiB) at one
// decimal place.
func humanSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), units[exp])
}
