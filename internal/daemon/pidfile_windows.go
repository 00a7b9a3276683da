//go:build windows

package daemon

import (
	"errors"
	"os"
	"syscall"
)

// processAlive checks whether the PID names a live process. Windows has
// no signal 0; FindProcess opens the process and fails for dead PIDs.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return !errors.Is(err, os.ErrProcessDone)
}

// terminate kills the process. Windows has no graceful SIGTERM.
func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
