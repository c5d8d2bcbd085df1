package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/modelflow/modelflow/flow"
	"github.com/modelflow/modelflow/server"
)

// daemonConfig is the top-level config file layout: one section for the
// dispatch engine, one for the HTTP surface.
type daemonConfig struct {
	Flow   flow.Config   `json:"flow" yaml:"flow"`
	Server server.Config `json:"server" yaml:"server"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Flow:   flow.DefaultConfig(),
		Server: server.DefaultConfig(),
	}
}

// loadDaemonConfig reads a config file and merges it over defaults. The
// format follows the file extension: .yaml/.yml or .json.
func loadDaemonConfig(filename string) (*daemonConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded daemonConfig
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := defaultDaemonConfig()
	cfg.Flow.Merge(&loaded.Flow)
	cfg.Server.Merge(&loaded.Server)
	return &cfg, nil
}
