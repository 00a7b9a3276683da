// Package config holds the server configuration, its defaults, and the
// loading precedence ENV > file > defaults.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Connection modes supported by the server.
const (
	ModeDirect    = "direct"    // plain LAN address
	ModeTailscale = "tailscale" // advertise the tailscale IP in QR/deep links
	ModeSSH       = "ssh"       // expect an SSH tunnel, bind loopback only
)

// Guest permission levels.
const (
	PermissionReadOnly = "read_only"
	PermissionFull     = "full"
)

// TelemetryConfig controls the optional OpenTelemetry trace exporter.
// Disabled by default: the server must not emit anything off-host unless
// the operator explicitly turns it on and the endpoint passes the outbound
// guard.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ExporterType string  `yaml:"exporter" json:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// RedisConfig holds the optional Redis cache backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// Config is the full server configuration. YAML tags define the on-disk
// layout of config.yaml inside ConfigDir.
type Config struct {
	Port             int    `yaml:"port" json:"port"`
	BindHost         string `yaml:"bind_host" json:"bind_host"`
	WorkingDir       string `yaml:"working_dir" json:"working_dir"`
	ServerName       string `yaml:"server_name" json:"server_name"`
	Token            string `yaml:"token" json:"token"`
	Mode             string `yaml:"mode" json:"mode"`
	MaxSessionsPerIP int    `yaml:"max_sessions_per_ip" json:"max_sessions_per_ip"`
	TLSEnabled       bool   `yaml:"tls_enabled" json:"tls_enabled"`
	MTLSEnabled      bool   `yaml:"mtls_enabled" json:"mtls_enabled"`
	DeviceLock       bool   `yaml:"device_lock" json:"device_lock"`
	BoundDeviceID    string `yaml:"bound_device_id" json:"bound_device_id"`
	LocalOnly        bool   `yaml:"local_only" json:"local_only"`

	AdminEnabled bool   `yaml:"admin_enabled" json:"admin_enabled"`
	AdminPINHash string `yaml:"admin_pin_hash" json:"admin_pin_hash"`

	AgentBin string `yaml:"agent_bin" json:"agent_bin"`

	HistoryRetentionDays int           `yaml:"history_retention_days" json:"history_retention_days"` // 0 = keep forever
	ReplayTTL            time.Duration `yaml:"replay_ttl" json:"replay_ttl"`

	CacheBackend string      `yaml:"cache_backend" json:"cache_backend"` // "memory" or "redis"
	Redis        RedisConfig `yaml:"redis" json:"redis"`

	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"` // "" disables the metrics listener

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// OutboundAllow extends the outbound allowlist beyond private networks.
	// Each entry is a host or CIDR.
	OutboundAllow []string `yaml:"outbound_allow" json:"outbound_allow"`

	// ConfigDir is resolved at load time and not persisted.
	ConfigDir string `yaml:"-" json:"-"`
}

// Default returns the built-in defaults. The token is intentionally empty;
// it is generated once by Init, never silently at load time.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "darkcode"
	}
	return Config{
		Port:             8765,
		BindHost:         "0.0.0.0",
		WorkingDir:       home,
		ServerName:       hostname,
		Mode:             ModeDirect,
		MaxSessionsPerIP: 3,
		AdminEnabled:     true,
		AgentBin:         "claude",
		ReplayTTL:        15 * time.Minute,
		CacheBackend:     "memory",
		ConfigDir:        filepath.Join(home, ".darkcode-server"),
		Telemetry:        TelemetryConfig{ExporterType: "grpc", SamplingRate: 0.1},
	}
}

// EffectiveBindHost accounts for LocalOnly and SSH mode, both of which force
// a loopback bind.
func (c Config) EffectiveBindHost() string {
	if c.LocalOnly || c.Mode == ModeSSH {
		return "127.0.0.1"
	}
	return c.BindHost
}

// ConfigFilePath returns the path of the YAML config inside ConfigDir.
func (c Config) ConfigFilePath() string {
	return filepath.Join(c.ConfigDir, "config.yaml")
}

// PIDFilePath returns the daemon pidfile path.
func (c Config) PIDFilePath() string {
	return filepath.Join(c.ConfigDir, "darkcode-server.pid")
}

// CertPath returns the TLS certificate path.
func (c Config) CertPath() string {
	return filepath.Join(c.ConfigDir, "server.crt")
}

// KeyPath returns the TLS private key path.
func (c Config) KeyPath() string {
	return filepath.Join(c.ConfigDir, "server.key")
}

// ClientCAPath returns the mTLS client CA bundle path.
func (c Config) ClientCAPath() string {
	return filepath.Join(c.ConfigDir, "client-ca.pem")
}

// GuestDBPath returns the guest access database path.
func (c Config) GuestDBPath() string {
	return filepath.Join(c.ConfigDir, "guests.db")
}

// SecurityDBPath returns the security events database path.
func (c Config) SecurityDBPath() string {
	return filepath.Join(c.ConfigDir, "security.db")
}

// HistoryDBPath returns the chat history database path.
func (c Config) HistoryDBPath() string {
	return filepath.Join(c.ConfigDir, "history.db")
}

// ReplayDirPath returns the badger transcript spool directory.
func (c Config) ReplayDirPath() string {
	return filepath.Join(c.ConfigDir, "replay")
}
