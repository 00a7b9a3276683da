package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// Pidfile tracks the single running server instance. The file lives in
// the config directory and holds one decimal PID.
type Pidfile struct {
	path string
}

// NewPidfile returns a pidfile handle for the given path. Nothing is
// read or written until Acquire.
func NewPidfile(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Path returns the pidfile location.
func (p *Pidfile) Path() string { return p.path }

// Acquire claims the pidfile for the current process. A live PID in the
// file means another instance runs; a stale one is replaced.
func (p *Pidfile) Acquire() error {
	if pid := p.RunningPID(); pid != 0 {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return p.write(os.Getpid())
}

// Release removes the pidfile. Only the process named in the file may
// release it, so a crashed-and-restarted server cannot delete its
// successor's claim.
func (p *Pidfile) Release() error {
	pid, err := p.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(p.path)
}

// RunningPID returns the PID recorded in the file when that process is
// still alive, and 0 otherwise. Stale files are removed on the way.
func (p *Pidfile) RunningPID() int {
	pid, err := p.read()
	if err != nil {
		return 0
	}
	if !processAlive(pid) {
		_ = os.Remove(p.path)
		return 0
	}
	return pid
}

// Stop signals the recorded process to terminate and waits for it to
// exit. The pidfile is removed once the process is gone.
func (p *Pidfile) Stop(timeout time.Duration) (int, error) {
	pid := p.RunningPID()
	if pid == 0 {
		return 0, ErrNotRunning
	}

	if err := terminate(pid); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(p.path)
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return pid, fmt.Errorf("%w (pid %d)", ErrStopTimeout, pid)
}

func (p *Pidfile) write(pid int) error {
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := renameio.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

func (p *Pidfile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pidfile %s", p.path)
	}
	return pid, nil
}
