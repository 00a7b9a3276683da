// Package api assembles the HTTP ingress: health probes, the admin
// dashboard and the websocket endpoint on one router.
package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darkcode/darkcode-server/internal/api/middleware"
	"github.com/darkcode/darkcode-server/internal/health"
)

// ErrMissingHealth is returned when no health manager is wired.
var ErrMissingHealth = errors.New("health manager is required")

// Deps collects the handlers the router mounts.
type Deps struct {
	Health *health.Manager
	// WS is the websocket endpoint. It hijacks the connection after the
	// handshake, so the router mounts it beneath the base middlewares
	// only.
	WS http.Handler
	// Admin is the dashboard router, nil when the dashboard is disabled.
	Admin chi.Router
	// CSP overrides the default admin content security policy.
	CSP string
	// TracingService names the service for HTTP spans; empty disables
	// tracing middleware.
	TracingService string
}

// New builds the ingress router. Routes that can tolerate a wrapped
// ResponseWriter (health, admin) sit in an observed group with metrics,
// tracing and request logging; the websocket endpoint stays outside it
// so the upgrade can still hijack the underlying connection.
func New(deps Deps) (http.Handler, error) {
	if deps.Health == nil {
		return nil, ErrMissingHealth
	}

	csp := deps.CSP
	if csp == "" {
		csp = middleware.DefaultCSP
	}
	cfg := middleware.StackConfig{
		EnableSecurityHeaders: true,
		CSP:                   csp,
		EnableMetrics:         true,
		TracingService:        deps.TracingService,
		EnableLogging:         true,
	}

	r := chi.NewRouter()
	middleware.ApplyBase(r, cfg)

	if deps.WS != nil {
		r.Handle("/ws", deps.WS)
	}

	r.Group(func(gr chi.Router) {
		middleware.ApplyObservability(gr, cfg)

		gr.Get("/healthz", deps.Health.ServeHealth)
		gr.Get("/readyz", deps.Health.ServeReady)

		if deps.Admin != nil {
			gr.Mount("/admin", deps.Admin)
			gr.Get("/", redirectTo("/admin/", http.StatusTemporaryRedirect))
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	return r, nil
}

func redirectTo(path string, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, code)
	}
}
