package configuration

import (
	"encoding/json"
	"os"
	"path"

	"github.com/kadroute/kadroute/internal/kadid"
)

// NodeConfig is the on-disk identity/bootstrap configuration for a single
// kadctl node, mirroring the shape of a small per-user JSON config file.
type NodeConfig struct {
	NodeID        kadid.ID `json:"nodeId"`
	ListenAddr    string   `json:"listenAddr"`
	AdvertiseAddr string   `json:"advertiseAddr,omitempty"`
	StoragePath   string   `json:"storagePath,omitempty"`
	Bootstrap     []string `json:"bootstrap,omitempty"`
}

// LoadNodeConfig reads a JSON config from the OS user-config directory,
// creating one with sane defaults on first run. Absent or corrupt config
// falls back to a fresh default and rewrites the file.
func LoadNodeConfig(appName string) (*NodeConfig, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	dir := path.Join(cfgDir, appName)
	file := path.Join(dir, "config.json")

	f, err := os.Open(file)
	if err != nil {
		cfg := defaultNodeConfig()
		return cfg, writeNodeConfig(dir, file, cfg)
	}
	defer f.Close()

	var cfg NodeConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		cfg2 := defaultNodeConfig()
		return cfg2, writeNodeConfig(dir, file, cfg2)
	}
	return &cfg, nil
}

func writeNodeConfig(dir, file string, cfg *NodeConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}

func defaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		NodeID:     kadid.RandomID(),
		ListenAddr: "127.0.0.1:0",
	}
}
