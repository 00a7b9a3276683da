package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a new configuration loader. An empty configPath means
// ENV-only configuration.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load loads configuration in strict order: defaults, then the YAML file
// (if present), then environment overrides, then validation.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("load config file: %w", err)
			}
		} else {
			mergeFileConfig(&cfg, fileCfg)
			cfg.ConfigDir = filepath.Dir(l.configPath)
		}
	}

	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.ConfigDir); err == nil {
		cfg.ConfigDir = abs
	}
	if abs, err := filepath.Abs(cfg.WorkingDir); err == nil {
		cfg.WorkingDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeEnvConfig applies DARKCODE_* environment overrides on top of cfg.
func (l *Loader) mergeEnvConfig(cfg *Config) {
	cfg.Port = ParseInt("DARKCODE_PORT", cfg.Port)
	cfg.BindHost = ParseString("DARKCODE_BIND_HOST", cfg.BindHost)
	cfg.WorkingDir = ParseString("DARKCODE_WORKING_DIR", cfg.WorkingDir)
	cfg.ServerName = ParseString("DARKCODE_SERVER_NAME", cfg.ServerName)
	cfg.Token = ParseString("DARKCODE_TOKEN", cfg.Token)
	cfg.Mode = strings.ToLower(ParseString("DARKCODE_MODE", cfg.Mode))
	cfg.MaxSessionsPerIP = ParseInt("DARKCODE_MAX_SESSIONS_PER_IP", cfg.MaxSessionsPerIP)
	cfg.TLSEnabled = ParseBool("DARKCODE_TLS", cfg.TLSEnabled)
	cfg.MTLSEnabled = ParseBool("DARKCODE_MTLS", cfg.MTLSEnabled)
	cfg.DeviceLock = ParseBool("DARKCODE_DEVICE_LOCK", cfg.DeviceLock)
	cfg.BoundDeviceID = ParseString("DARKCODE_BOUND_DEVICE_ID", cfg.BoundDeviceID)
	cfg.LocalOnly = ParseBool("DARKCODE_LOCAL_ONLY", cfg.LocalOnly)
	cfg.AdminEnabled = ParseBool("DARKCODE_ADMIN", cfg.AdminEnabled)
	cfg.AgentBin = ParseString("DARKCODE_AGENT_BIN", cfg.AgentBin)
	cfg.HistoryRetentionDays = ParseInt("DARKCODE_HISTORY_RETENTION_DAYS", cfg.HistoryRetentionDays)
	cfg.ReplayTTL = ParseDuration("DARKCODE_REPLAY_TTL", cfg.ReplayTTL)
	cfg.CacheBackend = ParseString("DARKCODE_CACHE_BACKEND", cfg.CacheBackend)
	cfg.Redis.Addr = ParseString("DARKCODE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("DARKCODE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("DARKCODE_REDIS_DB", cfg.Redis.DB)
	cfg.MetricsAddr = ParseString("DARKCODE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Telemetry.Enabled = ParseBool("DARKCODE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString("DARKCODE_OTEL_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString("DARKCODE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("DARKCODE_OTEL_SAMPLE_RATE", cfg.Telemetry.SamplingRate)
	if v := ParseString("DARKCODE_OUTBOUND_ALLOW", ""); v != "" {
		cfg.OutboundAllow = splitCSV(v)
	}
	cfg.ConfigDir = ParseString("DARKCODE_CONFIG_DIR", cfg.ConfigDir)
}

// mergeFileConfig copies file values over defaults. Zero values in the file
// keep the default, mirroring the ENV merge semantics.
func mergeFileConfig(cfg *Config, file fileConfig) {
	if file.Port != 0 {
		cfg.Port = file.Port
	}
	if file.BindHost != "" {
		cfg.BindHost = file.BindHost
	}
	if file.WorkingDir != "" {
		cfg.WorkingDir = file.WorkingDir
	}
	if file.ServerName != "" {
		cfg.ServerName = file.ServerName
	}
	if file.Token != "" {
		cfg.Token = file.Token
	}
	if file.Mode != "" {
		cfg.Mode = strings.ToLower(file.Mode)
	}
	if file.MaxSessionsPerIP != 0 {
		cfg.MaxSessionsPerIP = file.MaxSessionsPerIP
	}
	if file.TLSEnabled != nil {
		cfg.TLSEnabled = *file.TLSEnabled
	}
	if file.MTLSEnabled != nil {
		cfg.MTLSEnabled = *file.MTLSEnabled
	}
	if file.DeviceLock != nil {
		cfg.DeviceLock = *file.DeviceLock
	}
	if file.BoundDeviceID != "" {
		cfg.BoundDeviceID = file.BoundDeviceID
	}
	if file.LocalOnly != nil {
		cfg.LocalOnly = *file.LocalOnly
	}
	if file.AdminEnabled != nil {
		cfg.AdminEnabled = *file.AdminEnabled
	}
	if file.AdminPINHash != "" {
		cfg.AdminPINHash = file.AdminPINHash
	}
	if file.AgentBin != "" {
		cfg.AgentBin = file.AgentBin
	}
	if file.HistoryRetentionDays != 0 {
		cfg.HistoryRetentionDays = file.HistoryRetentionDays
	}
	if file.ReplayTTL != "" {
		if d, err := time.ParseDuration(file.ReplayTTL); err == nil {
			cfg.ReplayTTL = d
		}
	}
	if file.CacheBackend != "" {
		cfg.CacheBackend = file.CacheBackend
	}
	if file.Redis.Addr != "" {
		cfg.Redis = file.Redis
	}
	if file.MetricsAddr != "" {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if file.Telemetry != nil {
		cfg.Telemetry = *file.Telemetry
	}
	if len(file.OutboundAllow) > 0 {
		cfg.OutboundAllow = file.OutboundAllow
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
