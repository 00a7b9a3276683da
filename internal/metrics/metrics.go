// SPDX-License-Identifier: MIT

// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "darkcode_sessions_active",
		Help: "Number of currently connected agent sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_sessions_total",
		Help: "Total sessions accepted by kind",
	}, []string{"kind"}) // kind=owner|guest

	sessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_sessions_rejected_total",
		Help: "Sessions rejected before attach by reason",
	}, []string{"reason"}) // reason=auth|blocked|device_lock|session_limit|permission

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_messages_total",
		Help: "WebSocket frames processed by direction",
	}, []string{"direction"}) // direction=in|out

	// Auth / security metrics
	authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_auth_failures_total",
		Help: "Authentication failures by reason",
	}, []string{"reason"}) // reason=token|guest_code

	blockedIdentifiers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "darkcode_blocked_identifiers",
		Help: "Currently blocked identifiers by type",
	}, []string{"identifier_type"}) // identifier_type=ip|device

	ratelimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_ratelimit_exceeded_total",
		Help: "Rate limit rejections by identifier type",
	}, []string{"identifier_type"}) // identifier_type=ip|device

	// Agent metrics
	agentProcessesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "darkcode_agent_processes_active",
		Help: "Agent CLI processes currently running",
	})

	agentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_agent_runs_total",
		Help: "Agent CLI invocations by outcome",
	}, []string{"outcome"}) // outcome=success|error|interrupted|start_failed

	agentRunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "darkcode_agent_run_duration_seconds",
		Help:    "Wall time of agent CLI invocations",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	// History metrics
	historyWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkcode_history_writes_total",
		Help: "Chat history messages recorded by role",
	}, []string{"role"}) // role=user|agent|system

	// Replay metrics
	replayFramesServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darkcode_replay_frames_served_total",
		Help: "Transcript frames served from the replay spool",
	})

	// HTTP metrics
	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "darkcode_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "class"}) // class=2xx|3xx|4xx|5xx
)

func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

func IncSession(kind string) { sessionsTotal.WithLabelValues(kind).Inc() }

func IncRejected(reason string) { sessionsRejectedTotal.WithLabelValues(reason).Inc() }

func IncMessage(direction string) { messagesTotal.WithLabelValues(direction).Inc() }

func IncAuthFailure(reason string) { authFailuresTotal.WithLabelValues(reason).Inc() }

func SetBlockedIdentifiers(identifierType string, n int) {
	blockedIdentifiers.WithLabelValues(identifierType).Set(float64(n))
}

func IncRateLimitExceeded(identifierType string) {
	ratelimitExceededTotal.WithLabelValues(identifierType).Inc()
}

func SetAgentProcessesActive(n int) { agentProcessesActive.Set(float64(n)) }

func RecordAgentRun(outcome string, seconds float64) {
	agentRunsTotal.WithLabelValues(outcome).Inc()
	agentRunDurationSeconds.Observe(seconds)
}

func IncHistoryWrite(role string) { historyWritesTotal.WithLabelValues(role).Inc() }

func AddReplayFramesServed(n int) { replayFramesServedTotal.Add(float64(n)) }

func ObserveHTTPRequest(route, class string, seconds float64) {
	httpRequestDurationSeconds.WithLabelValues(route, class).Observe(seconds)
}
