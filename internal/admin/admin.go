// Package admin serves the web dashboard mounted under /admin: PIN
// login, server status, connected sessions, and guest code management.
// Authentication is deliberately separate from the WebSocket token so
// the dashboard can be opened without exposing the phone credential.
package admin

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/cache"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/session"
)

//go:embed templates
var templatesFS embed.FS

const (
	// sessionCookie is the browser cookie carrying the dashboard login.
	sessionCookie = "darkcode_admin_session"
	// sessionTTL bounds how long a dashboard login stays valid.
	sessionTTL = 30 * time.Minute
	// sessionKeyPrefix namespaces dashboard logins in the cache.
	sessionKeyPrefix = "admin_session:"

	// loginAttempts and loginWindow rate-limit PIN guessing per IP.
	loginAttempts = 10
	loginWindow   = time.Minute
)

// Deps collects what the dashboard reads and manages.
type Deps struct {
	Holder  *config.Holder
	Hub     *session.Hub
	Guests  *security.GuestManager
	Limiter *security.Limiter
	Cache   cache.Cache
	// StartedAt anchors the uptime display.
	StartedAt time.Time
	// ServerState reports the lifecycle state for the status endpoint.
	ServerState func() string
}

// Server renders the dashboard and exposes the admin JSON API.
type Server struct {
	deps   Deps
	tmpl   *template.Template
	logger zerolog.Logger
}

// NewServer parses the embedded templates and returns the dashboard
// server.
func NewServer(deps Deps) (*Server, error) {
	tmpl, err := template.New("").Funcs(sprig.HtmlFuncMap()).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing admin templates: %w", err)
	}
	return &Server{
		deps:   deps,
		tmpl:   tmpl,
		logger: log.WithComponent("admin"),
	}, nil
}

// Routes returns the router to mount under /admin.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			loginAttempts,
			loginWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
		r.Get("/login", s.handleLoginForm)
		r.Post("/login", s.handleLoginSubmit)
	})

	r.Get("/", s.handleIndex)
	r.Get("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/status", s.handleStatus)
		r.Get("/guests", s.handleListGuests)
		r.Post("/guests", s.handleCreateGuest)
		r.Delete("/guests/{code}", s.handleRevokeGuest)
		r.Get("/security/blocked", s.handleListBlocked)
		r.Delete("/security/blocked/{identifier}", s.handleUnblock)
	})

	return r
}

// isAuthenticated reports whether the request carries a live dashboard
// session.
func (s *Server) isAuthenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return false
	}
	_, ok := s.deps.Cache.Get(sessionKeyPrefix + c.Value)
	return ok
}

// requireSession guards the JSON API with a 401 instead of the login
// redirect pages use.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAuthenticated(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// openSession mints a login token, stores it in the cache, and sets
// the cookie.
func (s *Server) openSession(w http.ResponseWriter) error {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	s.deps.Cache.Set(sessionKeyPrefix+token, time.Now().UTC().Format(time.RFC3339), sessionTTL)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/admin",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.deps.Holder.Get().TLSEnabled,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

// closeSession drops the cache entry and expires the cookie.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		s.deps.Cache.Delete(sessionKeyPrefix + c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/admin",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
