package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8765 {
		t.Errorf("Port = %d, want 8765", cfg.Port)
	}
	if cfg.Mode != ModeDirect {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeDirect)
	}
	if cfg.MaxSessionsPerIP != 3 {
		t.Errorf("MaxSessionsPerIP = %d, want 3", cfg.MaxSessionsPerIP)
	}
	if cfg.CacheBackend != "memory" {
		t.Errorf("CacheBackend = %q, want memory", cfg.CacheBackend)
	}
	if cfg.Token != "" {
		t.Errorf("Token = %q, want empty (never generated at load)", cfg.Token)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"port: 9000",
		"server_name: workstation",
		"mode: tailscale",
		"tls_enabled: true",
		"replay_ttl: 30m",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.ServerName != "workstation" {
		t.Errorf("ServerName = %q, want workstation", cfg.ServerName)
	}
	if cfg.Mode != ModeTailscale {
		t.Errorf("Mode = %q, want tailscale", cfg.Mode)
	}
	if !cfg.TLSEnabled {
		t.Error("TLSEnabled = false, want true")
	}
	if cfg.ReplayTTL != 30*time.Minute {
		t.Errorf("ReplayTTL = %s, want 30m", cfg.ReplayTTL)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DARKCODE_PORT", "9100")
	t.Setenv("DARKCODE_LOCAL_ONLY", "true")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want env override 9100", cfg.Port)
	}
	if !cfg.LocalOnly {
		t.Error("LocalOnly = false, want true from env")
	}
	if got := cfg.EffectiveBindHost(); got != "127.0.0.1" {
		t.Errorf("EffectiveBindHost() = %q, want 127.0.0.1 under local_only", got)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("prot: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() error = nil, want strict-decode failure for unknown key")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for absent file", err)
	}
	if cfg.Port != 8765 {
		t.Errorf("Port = %d, want default 8765", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"bad mode", func(c *Config) { c.Mode = "vpn" }, true},
		{"mtls without tls", func(c *Config) { c.MTLSEnabled = true }, true},
		{"mtls with tls", func(c *Config) { c.TLSEnabled = true; c.MTLSEnabled = true }, false},
		{"bound device without lock", func(c *Config) { c.BoundDeviceID = "dev-1" }, true},
		{"bound device with lock", func(c *Config) { c.DeviceLock = true; c.BoundDeviceID = "dev-1" }, false},
		{"zero session cap", func(c *Config) { c.MaxSessionsPerIP = 0 }, true},
		{"redis backend without addr", func(c *Config) { c.CacheBackend = "redis" }, true},
		{"redis backend with addr", func(c *Config) { c.CacheBackend = "redis"; c.Redis.Addr = "localhost:6379" }, false},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, true},
		{"telemetry complete", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = "localhost:4317"
		}, false},
		{"negative retention", func(c *Config) { c.HistoryRetentionDays = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForServeRequiresToken(t *testing.T) {
	cfg := Default()
	if err := ValidateForServe(cfg); err == nil {
		t.Fatal("ValidateForServe() error = nil, want ErrNoToken")
	}
	cfg.Token = "abcdefghijklmnopqrstuvwxyz012345"
	if err := ValidateForServe(cfg); err != nil {
		t.Fatalf("ValidateForServe() error = %v, want nil", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.ConfigDir = t.TempDir()
	cfg.Token = "tok_0123456789abcdef0123456789abcdef"
	cfg.Port = 9191
	cfg.TLSEnabled = true

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(cfg.ConfigFilePath())
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	loaded, err := NewLoader(cfg.ConfigFilePath()).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// WorkingDir is made absolute by Load; normalize before comparing.
	want := cfg
	if abs, err := filepath.Abs(want.WorkingDir); err == nil {
		want.WorkingDir = abs
	}
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Errorf("config changed across save/load round trip (-want +got):\n%s", diff)
	}
}
