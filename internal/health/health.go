// SPDX-License-Identifier: MIT

// Package health implements the liveness and readiness probes and the
// startup pre-flight checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"time"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/log"
)

// Status is the overall health or readiness verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the /readyz payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one probeable component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs registered checkers and serves the probe endpoints.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health reports liveness. The process serving the request is proof of
// life, so the status only reflects component checks when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready reports whether the server should receive traffic. Any
// unhealthy component makes it not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	if resp.Status == StatusUnhealthy {
		resp.Ready = false
	}
	return resp
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status
}

// ServeHealth answers liveness probes. Always 200; the body carries
// the details.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady answers readiness probes with 503 until every component
// is at least degraded-but-working.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}
}

// AgentChecker verifies the coding agent CLI is still on PATH. Missing
// is degraded, not unhealthy: the server can serve history and the
// dashboard without it.
type AgentChecker struct {
	bin func() string
}

func NewAgentChecker(bin func() string) *AgentChecker {
	return &AgentChecker{bin: bin}
}

func (c *AgentChecker) Name() string { return "agent_cli" }

func (c *AgentChecker) Check(_ context.Context) CheckResult {
	bin := c.bin()
	if bin == "" {
		return CheckResult{Status: StatusDegraded, Message: "no agent binary configured"}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   "agent binary not found",
			Message: bin,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// WorkdirChecker verifies the agent working directory exists. Prompts
// cannot run without it.
type WorkdirChecker struct {
	dir func() string
}

func NewWorkdirChecker(dir func() string) *WorkdirChecker {
	return &WorkdirChecker{dir: dir}
}

func (c *WorkdirChecker) Name() string { return "working_dir" }

func (c *WorkdirChecker) Check(_ context.Context) CheckResult {
	dir := c.dir()
	if err := agent.CheckWorkingDir(dir); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: dir}
}

// Pinger is the slice of the history store the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HistoryChecker verifies the conversation database answers.
type HistoryChecker struct {
	store Pinger
}

func NewHistoryChecker(store Pinger) *HistoryChecker {
	return &HistoryChecker{store: store}
}

func (c *HistoryChecker) Name() string { return "history_db" }

func (c *HistoryChecker) Check(ctx context.Context) CheckResult {
	if c.store == nil {
		return CheckResult{Status: StatusDegraded, Message: "history store not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// StateChecker gates readiness on the server lifecycle: not ready
// until the daemon reports running.
type StateChecker struct {
	state func() string
}

func NewStateChecker(state func() string) *StateChecker {
	return &StateChecker{state: state}
}

func (c *StateChecker) Name() string { return "server_state" }

func (c *StateChecker) Check(_ context.Context) CheckResult {
	s := c.state()
	if s != "running" {
		return CheckResult{Status: StatusUnhealthy, Message: s}
	}
	return CheckResult{Status: StatusHealthy, Message: s}
}
