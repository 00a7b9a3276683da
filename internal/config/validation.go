package config

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken indicates the server would start without any auth token.
	ErrNoToken = errors.New("no auth token configured (run 'darkcode-server init' first)")
)

// Validate checks cross-field consistency. It is called on every load and
// on every hot reload; a failing config is never applied.
func Validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", cfg.Port)
	}
	switch cfg.Mode {
	case ModeDirect, ModeTailscale, ModeSSH:
	default:
		return fmt.Errorf("unknown mode %q (expected direct, tailscale or ssh)", cfg.Mode)
	}
	if cfg.MaxSessionsPerIP < 1 {
		return fmt.Errorf("max_sessions_per_ip must be >= 1, got %d", cfg.MaxSessionsPerIP)
	}
	if cfg.MTLSEnabled && !cfg.TLSEnabled {
		return errors.New("mtls_enabled requires tls_enabled")
	}
	if cfg.BoundDeviceID != "" && !cfg.DeviceLock {
		return errors.New("bound_device_id set but device_lock disabled")
	}
	switch cfg.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache_backend %q (expected memory or redis)", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "redis" && cfg.Redis.Addr == "" {
		return errors.New("cache_backend redis requires redis.addr")
	}
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			return errors.New("telemetry enabled without endpoint")
		}
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			return fmt.Errorf("unknown telemetry exporter %q (expected grpc or http)", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry sampling_rate %v out of range (0-1)", cfg.Telemetry.SamplingRate)
		}
	}
	if cfg.HistoryRetentionDays < 0 {
		return fmt.Errorf("history_retention_days must be >= 0, got %d", cfg.HistoryRetentionDays)
	}
	if cfg.ReplayTTL < 0 {
		return fmt.Errorf("replay_ttl must be >= 0, got %s", cfg.ReplayTTL)
	}
	return nil
}

// ValidateForServe adds the checks that only matter when actually serving,
// on top of Validate.
func ValidateForServe(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.Token == "" {
		return ErrNoToken
	}
	return nil
}
