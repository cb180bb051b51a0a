// Package config loads a node's on-disk TOML configuration and resolves
// it into an engine.Config (spec §6.1).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/triphopMahithi/DropTea/engine"
)

// AppConfig mirrors the on-disk TOML layout. Durations are given in TOML
// as plain seconds to keep the file human-editable without needing a
// custom unmarshaler.
type AppConfig struct {
	NodeName               string   `toml:"node_name"`
	StorageDir             string   `toml:"storage_dir"`
	DownloadDir            string   `toml:"download_dir"`
	Transports             []string `toml:"transports"`
	MaxInboundTransfers    int64    `toml:"max_inbound_transfers"`
	MaxOutboundTransfers   int64    `toml:"max_outbound_transfers"`
	HealthProbeIntervalSec int64    `toml:"health_probe_interval_seconds"`
}

// Load parses the TOML file at path into an AppConfig.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: cannot decode %s: %w", path, err)
	}
	if cfg.NodeName == "" {
		return AppConfig{}, fmt.Errorf("config: node_name is required")
	}
	if cfg.StorageDir == "" {
		return AppConfig{}, fmt.Errorf("config: storage_dir is required")
	}
	return cfg, nil
}

// ToEngineConfig converts a parsed AppConfig into the engine.Config New
// expects, filling in Sink, Arbiter, and Logger separately since those are
// runtime objects the TOML file cannot describe.
func (a AppConfig) ToEngineConfig() engine.Config {
	return engine.Config{
		NodeName:             a.NodeName,
		StorageDir:           a.StorageDir,
		DownloadDir:          a.DownloadDir,
		Transports:           a.Transports,
		MaxInboundTransfers:  a.MaxInboundTransfers,
		MaxOutboundTransfers: a.MaxOutboundTransfers,
		HealthProbeInterval:  time.Duration(a.HealthProbeIntervalSec) * time.Second,
	}
}
