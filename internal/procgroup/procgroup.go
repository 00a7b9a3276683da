// Package procgroup starts child processes in their own process group
// and tears the whole group down. The agent CLI spawns helpers of its
// own; killing only the direct child would leave those running after
// an interrupt.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate stops a process group gracefully: SIGTERM, wait up to
// grace, then SIGKILL. waitCh must carry the result of cmd.Wait; its
// value is consumed and returned so the caller never double-waits.
// Safe to call with a nil command.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
