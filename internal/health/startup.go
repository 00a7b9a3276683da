package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/log"
)

// PerformStartupChecks validates the environment before the listeners
// come up. Failures here are configuration problems the operator must
// fix; warnings cover things the server can limp along without.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkConfigDir(logger, cfg.ConfigDir); err != nil {
		return fmt.Errorf("config directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.BindHost, cfg.Port); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkWorkingDir(logger, cfg.WorkingDir); err != nil {
		return fmt.Errorf("working directory check failed: %w", err)
	}
	checkAgentBinary(logger, cfg.AgentBin)
	warnTempConfigDir(logger, cfg.ConfigDir)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkConfigDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (%v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("config directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, host string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		if ip := net.ParseIP(host); ip == nil {
			return fmt.Errorf("bind host %q is not an IP address", host)
		}
	}
	logger.Info().Str("addr", fmt.Sprintf("%s:%d", host, port)).Msg("listen address is valid")
	return nil
}

func checkWorkingDir(logger zerolog.Logger, path string) error {
	if err := agent.CheckWorkingDir(path); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("working directory exists")
	return nil
}

// checkAgentBinary warns instead of failing: the server still serves
// history and the dashboard when the CLI is absent.
func checkAgentBinary(logger zerolog.Logger, bin string) {
	if bin == "" {
		logger.Warn().Msg("no agent binary configured; prompts will fail until one is set")
		return
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		logger.Warn().Str("bin", bin).Msg("agent binary not found on PATH; prompts will fail until it is installed")
		return
	}
	logger.Info().Str("path", path).Msg("agent binary found")
}

func warnTempConfigDir(logger zerolog.Logger, configDir string) {
	tempDir := filepath.Clean(os.TempDir())
	dir := filepath.Clean(configDir)
	if tempDir != "." && (dir == tempDir || strings.HasPrefix(dir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("config_dir", configDir).
			Msg("config directory is under temp; token, history, and guest codes may be lost on reboot")
	}
}
