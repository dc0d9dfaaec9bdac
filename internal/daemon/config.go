// Package daemon manages the transferd daemon lifecycle and configuration:
// wiring the orchestrator to its protocol adapters, the state DB, the
// event bus, and the metrics/health HTTP surface. Configuration is a
// TOML file at ~/.transferd/config.toml with per-concern sections
// (Node/Transfer/Network/Metrics/Logging/Security).
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Transfer  TransferConfig  `toml:"transfer"`
	Network   NetworkConfig   `toml:"network"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
	Security  SecurityConfig  `toml:"security"`
}

// NodeConfig identifies this node and where it keeps its state.
type NodeConfig struct {
	ID      string `toml:"id"`
	DataDir string `toml:"data_dir"`
}

// TransferConfig holds chunk-planning and source-assignment settings.
// ChunkSize and the two directories are used by the daemon;
// MaxChunksPerSource and MaxSources are decoded but not passed to the
// orchestrator, which applies its own MaxChunksPerSource constant and
// keeps every ranked source when a transfer runs multi-source.
type TransferConfig struct {
	ChunkSize         int    `toml:"chunk_size_bytes"`
	MaxChunksPerSource int   `toml:"max_chunks_per_source"`
	MaxSources        int    `toml:"max_sources"`
	ChunkStoreDir     string `toml:"chunk_store_dir"`
	DownloadStateDir  string `toml:"download_state_dir"`
}

// NetworkConfig controls the protocol adapters' network behavior.
type NetworkConfig struct {
	HTTPTimeoutS     int      `toml:"http_timeout_s"`
	FTPTimeoutS      int      `toml:"ftp_timeout_s"`
	ED2KTimeoutS     int      `toml:"ed2k_timeout_s"`
	ED2KListenAddr   string   `toml:"ed2k_listen_addr"`
	BitTorrentDir    string   `toml:"bittorrent_temp_dir"`
	STUNURLs         []string `toml:"stun_urls"`
	TURNURLs         []string `toml:"turn_urls"`
	TURNUsername     string   `toml:"turn_username"`
	TURNPassword     string   `toml:"turn_password"`
}

// MetricsConfig controls the Prometheus /metrics and health endpoints.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// SecurityConfig controls the node's cryptographic identity.
type SecurityConfig struct {
	RequireEncryption bool `toml:"require_encryption"`
}

// DefaultConfig returns a sensible default configuration rooted at
// transferdHome().
func DefaultConfig() Config {
	home := transferdHome()
	return Config{
		Node: NodeConfig{
			DataDir: home,
		},
		Transfer: TransferConfig{
			ChunkSize:          262144, // domain.DefaultChunkSize
			MaxChunksPerSource: 10,
			MaxSources:         8,
			ChunkStoreDir:      filepath.Join(home, "chunks"),
			DownloadStateDir:   filepath.Join(home, "downloads"),
		},
		Network: NetworkConfig{
			HTTPTimeoutS:   30,
			FTPTimeoutS:    30,
			ED2KTimeoutS:   30,
			ED2KListenAddr: "127.0.0.1:4662",
			BitTorrentDir:  filepath.Join(home, "bittorrent-tmp"),
			STUNURLs:      []string{"stun:stun.l.google.com:19302"},
			TURNURLs:      nil, // must be set explicitly: STUN-only operation is refused
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "transferd.log"),
		},
		Security: SecurityConfig{
			RequireEncryption: false,
		},
	}
}

// LoadConfig reads config from ~/.transferd/config.toml, falling back to
// defaults when no file exists yet.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(transferdHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to ~/.transferd/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(transferdHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// transferdHome returns the transferd data directory.
func transferdHome() string {
	if env := os.Getenv("TRANSFERD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".transferd")
}

// TransferdHome is exported for use by other packages (the CLI's default
// output-path resolution).
func TransferdHome() string {
	return transferdHome()
}
