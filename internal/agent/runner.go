// Package agent drives the coding-agent CLI on behalf of connected
// clients: one process per prompt, output streamed as it appears.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/metrics"
	"github.com/darkcode/darkcode-server/internal/procgroup"
)

// Output stream names, matching the wire protocol.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// defaultTermGrace is how long an interrupted process gets to exit on
// SIGTERM before the group is SIGKILLed.
const defaultTermGrace = 3 * time.Second

// OutputFunc receives one chunk of agent output. Chunks are raw bytes
// in arrival order per stream; the two streams interleave.
type OutputFunc func(stream string, data []byte)

// Result describes one finished run.
type Result struct {
	ExitCode    int
	Interrupted bool
	Duration    time.Duration
}

// Runner executes the agent CLI in print mode inside the configured
// working directory.
type Runner struct {
	bin        string
	workingDir string
	termGrace  time.Duration
	logger     zerolog.Logger

	active atomic.Int64
}

// NewRunner builds a runner for the given binary and working dir.
func NewRunner(bin, workingDir string) *Runner {
	return &Runner{
		bin:        bin,
		workingDir: workingDir,
		termGrace:  defaultTermGrace,
		logger:     log.WithComponent("agent"),
	}
}

// Run executes one prompt. The prompt is piped to the process's stdin;
// stdout and stderr are streamed through onOutput until the process
// exits. Cancelling ctx interrupts the run by terminating the whole
// process group. A non-zero exit is reported in the Result, not as an
// error; errors mean the process could not be run at all.
func (r *Runner) Run(ctx context.Context, prompt string, onOutput OutputFunc) (Result, error) {
	cmd := exec.Command(r.bin, "-p")
	cmd.Dir = r.workingDir
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(prompt)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.RecordAgentRun("start_failed", time.Since(start).Seconds())
		return Result{}, fmt.Errorf("start %s: %w", r.bin, err)
	}

	metrics.SetAgentProcessesActive(int(r.active.Add(1)))
	defer func() {
		metrics.SetAgentProcessesActive(int(r.active.Add(-1)))
	}()

	r.logger.Debug().
		Str("event", "agent.run_start").
		Int("pid", cmd.Process.Pid).
		Str("dir", r.workingDir).
		Msg("agent process started")

	var readers sync.WaitGroup
	readers.Add(2)
	go streamOutput(&readers, StreamStdout, stdout, onOutput)
	go streamOutput(&readers, StreamStderr, stderr, onOutput)

	// cmd.Wait must not run before both pipes are drained.
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		res := Result{ExitCode: exitCode(err), Duration: time.Since(start)}
		outcome := "success"
		if res.ExitCode != 0 {
			outcome = "error"
		}
		metrics.RecordAgentRun(outcome, res.Duration.Seconds())
		r.logger.Debug().
			Str("event", "agent.run_done").
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("agent process finished")
		return res, nil

	case <-ctx.Done():
		err := procgroup.Terminate(cmd, waitCh, r.termGrace)
		res := Result{
			ExitCode:    exitCode(err),
			Interrupted: true,
			Duration:    time.Since(start),
		}
		metrics.RecordAgentRun("interrupted", res.Duration.Seconds())
		r.logger.Info().
			Str("event", "agent.run_interrupted").
			Dur("duration", res.Duration).
			Msg("agent process interrupted")
		return res, nil
	}
}

func streamOutput(wg *sync.WaitGroup, stream string, pipe io.Reader, onOutput OutputFunc) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onOutput(stream, chunk)
		}
		if err != nil {
			return
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
