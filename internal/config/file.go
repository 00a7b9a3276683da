package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML decoding. Booleans are pointers so a
// file can explicitly set false without being confused with "absent".
type fileConfig struct {
	Port                 int              `yaml:"port" json:"port"`
	BindHost             string           `yaml:"bind_host" json:"bind_host"`
	WorkingDir           string           `yaml:"working_dir" json:"working_dir"`
	ServerName           string           `yaml:"server_name" json:"server_name"`
	Token                string           `yaml:"token" json:"token"`
	Mode                 string           `yaml:"mode" json:"mode"`
	MaxSessionsPerIP     int              `yaml:"max_sessions_per_ip" json:"max_sessions_per_ip"`
	TLSEnabled           *bool            `yaml:"tls_enabled" json:"tls_enabled"`
	MTLSEnabled          *bool            `yaml:"mtls_enabled" json:"mtls_enabled"`
	DeviceLock           *bool            `yaml:"device_lock" json:"device_lock"`
	BoundDeviceID        string           `yaml:"bound_device_id" json:"bound_device_id"`
	LocalOnly            *bool            `yaml:"local_only" json:"local_only"`
	AdminEnabled         *bool            `yaml:"admin_enabled" json:"admin_enabled"`
	AdminPINHash         string           `yaml:"admin_pin_hash" json:"admin_pin_hash"`
	AgentBin             string           `yaml:"agent_bin" json:"agent_bin"`
	HistoryRetentionDays int              `yaml:"history_retention_days" json:"history_retention_days"`
	ReplayTTL            string           `yaml:"replay_ttl" json:"replay_ttl"` // Go duration string, e.g. "15m"
	CacheBackend         string           `yaml:"cache_backend" json:"cache_backend"`
	Redis                RedisConfig      `yaml:"redis" json:"redis"`
	MetricsAddr          string           `yaml:"metrics_addr" json:"metrics_addr"`
	Telemetry            *TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	OutboundAllow        []string         `yaml:"outbound_allow" json:"outbound_allow"`
}

// loadFile reads and strictly decodes a YAML config file. Unknown keys are
// rejected so typos surface at startup instead of being silently ignored.
func loadFile(path string) (fileConfig, error) {
	var out fileConfig

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flags/env
	if err != nil {
		return out, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// Save writes the configuration atomically with owner-only permissions.
// The file holds the auth token, so 0600 is mandatory, not cosmetic.
func Save(cfg Config) error {
	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(persistedView(cfg))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := renameio.WriteFile(cfg.ConfigFilePath(), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Persisted returns the file-layout view of cfg for rendering by
// tooling. Durations appear as strings, matching what loadFile reads.
func Persisted(cfg Config) any {
	return persistedView(cfg)
}

// persistedView strips runtime-only fields before marshaling.
func persistedView(cfg Config) fileConfig {
	return fileConfig{
		Port:                 cfg.Port,
		BindHost:             cfg.BindHost,
		WorkingDir:           cfg.WorkingDir,
		ServerName:           cfg.ServerName,
		Token:                cfg.Token,
		Mode:                 cfg.Mode,
		MaxSessionsPerIP:     cfg.MaxSessionsPerIP,
		TLSEnabled:           &cfg.TLSEnabled,
		MTLSEnabled:          &cfg.MTLSEnabled,
		DeviceLock:           &cfg.DeviceLock,
		BoundDeviceID:        cfg.BoundDeviceID,
		LocalOnly:            &cfg.LocalOnly,
		AdminEnabled:         &cfg.AdminEnabled,
		AdminPINHash:         cfg.AdminPINHash,
		AgentBin:             cfg.AgentBin,
		HistoryRetentionDays: cfg.HistoryRetentionDays,
		ReplayTTL:            cfg.ReplayTTL.String(),
		CacheBackend:         cfg.CacheBackend,
		Redis:                cfg.Redis,
		MetricsAddr:          cfg.MetricsAddr,
		Telemetry:            &cfg.Telemetry,
		OutboundAllow:        cfg.OutboundAllow,
	}
}
