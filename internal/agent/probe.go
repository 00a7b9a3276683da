package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// probeTimeout bounds the --version call; a hung CLI must not hang
// startup checks.
const probeTimeout = 5 * time.Second

// ProbeResult describes whether the agent CLI is usable.
type ProbeResult struct {
	Binary  string
	Found   bool
	Path    string
	Version string
}

// Probe looks up the agent binary on PATH and asks it for its version.
func Probe(ctx context.Context, bin string) ProbeResult {
	res := ProbeResult{Binary: bin}

	path, err := exec.LookPath(bin)
	if err != nil {
		return res
	}
	res.Found = true
	res.Path = path

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return res
	}
	if lines := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2); len(lines) > 0 {
		res.Version = strings.TrimSpace(lines[0])
	}
	return res
}

// CheckWorkingDir verifies the configured working directory exists and
// is a directory. The agent refuses to start sessions otherwise.
func CheckWorkingDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s is not a directory", dir)
	}
	return nil
}
