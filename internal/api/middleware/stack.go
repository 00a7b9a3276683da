// SPDX-License-Identifier: MIT

package middleware

import (
	"github.com/go-chi/chi/v5"

	xglog "github.com/darkcode/darkcode-server/internal/log"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	// Security headers
	EnableSecurityHeaders bool
	CSP                   string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
}

// ApplyBase installs the always-on middlewares: panic recovery first as
// the outermost safety net, request IDs early so every later log line
// can correlate, then security headers. None of these wrap the
// ResponseWriter, so hijacking routes stay functional beneath them.
func ApplyBase(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
}

// ApplyObservability installs the writer-wrapping middlewares: metrics,
// tracing, logging. The websocket endpoint must be mounted outside any
// group carrying these, because a wrapped ResponseWriter cannot be
// hijacked for the upgrade.
func ApplyObservability(r chi.Router, cfg StackConfig) {
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
}
