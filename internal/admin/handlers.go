package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/netutil"
	"github.com/darkcode/darkcode-server/internal/qr"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/session"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

type loginData struct {
	Error string
}

type dashboardData struct {
	Uptime          string
	WSURL           string
	WorkingDirShort string
	State           string
	DeviceLock      string
	TLSStatus       string
	TokenMasked     string
	TailscaleIP     string
	SessionCount    int
	Sessions        []session.Snapshot
	Guests          []security.GuestCode
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.isAuthenticated(r) {
		s.renderLogin(w, "")
		return
	}
	s.renderDashboard(w, r)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, _ *http.Request) {
	s.renderLogin(w, "")
}

// handleLoginSubmit reads the PIN from the form body only; a PIN in the
// query string would end up in access logs.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderLogin(w, "")
		return
	}
	pin := r.PostFormValue("pin")
	if pin == "" {
		s.renderLogin(w, "")
		return
	}

	cfg := s.deps.Holder.Get()
	if !config.VerifyPIN(pin, cfg.AdminPINHash) {
		s.logger.Warn().
			Str("event", "admin.login_failed").
			Str("remote_addr", r.RemoteAddr).
			Msg("dashboard login rejected")
		w.WriteHeader(http.StatusUnauthorized)
		s.renderLogin(w, "Invalid PIN")
		return
	}

	if err := s.openSession(w); err != nil {
		s.logger.Error().Err(err).Msg("opening dashboard session failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Info().
		Str("event", "admin.login").
		Str("remote_addr", r.RemoteAddr).
		Msg("dashboard login")
	http.Redirect(w, r, "/admin", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.closeSession(w, r)
	http.Redirect(w, r, "/admin", http.StatusFound)
}

// handleStatus reports the numbers the dashboard polls for.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Holder.Get()
	state := "unknown"
	if s.deps.ServerState != nil {
		state = s.deps.ServerState()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.deps.StartedAt).Seconds()),
		"port":           cfg.Port,
		"session_count":  s.deps.Hub.Count(),
		"state":          state,
		"device_lock":    cfg.DeviceLock,
		"tls_enabled":    cfg.TLSEnabled,
	})
}

type guestView struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
	Status     string `json:"status"`
	UseCount   int    `json:"use_count"`
	MaxUses    int    `json:"max_uses"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	DeepLink   string `json:"deep_link,omitempty"`
}

func (s *Server) handleListGuests(w http.ResponseWriter, r *http.Request) {
	codes, err := s.deps.Guests.ListCodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]guestView, 0, len(codes))
	for _, g := range codes {
		views = append(views, toGuestView(g, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{"guests": views})
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Permission   string `json:"permission"`
		ExpiresHours int    `json:"expires_hours"`
		MaxUses      int    `json:"max_uses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Permission == "" {
		req.Permission = config.PermissionReadOnly
	}

	g, err := s.deps.Guests.CreateCode(r.Context(), req.Name, req.Permission, req.ExpiresHours, req.MaxUses)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := s.deps.Holder.Get()
	link := qr.GuestDeepLink(cfg, cfg.Mode, g.Code)
	s.logger.Info().
		Str("event", "admin.guest_created").
		Str("permission", g.PermissionLevel).
		Msg("guest code created")
	writeJSON(w, http.StatusCreated, toGuestView(g, link))
}

func (s *Server) handleRevokeGuest(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ok, err := s.deps.Guests.RevokeCode(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeNotFound(w)
		return
	}
	s.logger.Info().
		Str("event", "admin.guest_revoked").
		Msg("guest code revoked")
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := s.deps.Limiter.Blocked(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocked})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	ok, err := s.deps.Limiter.Unblock(r.Context(), identifier)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeNotFound(w)
		return
	}
	s.logger.Info().
		Str("event", "admin.identifier_unblocked").
		Str("identifier", identifier).
		Msg("identifier unblocked")
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (s *Server) renderLogin(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "login.tmpl", loginData{Error: errMsg}); err != nil {
		s.logger.Error().Err(err).Msg("rendering login page failed")
	}
}

func (s *Server) renderDashboard(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Holder.Get()

	localIP := "127.0.0.1"
	if ip, err := netutil.LANIP(); err == nil {
		localIP = ip.String()
	}
	scheme := "ws"
	tlsStatus := "Disabled (ws://)"
	if cfg.TLSEnabled {
		scheme = "wss"
		tlsStatus = "Enabled (wss://)"
	}
	deviceLock := "Disabled"
	if cfg.DeviceLock {
		deviceLock = "Enabled"
	}
	state := "running"
	if s.deps.ServerState != nil {
		state = s.deps.ServerState()
	}
	tailscaleIP := ""
	if ip, ok := netutil.TailscaleIP(); ok {
		tailscaleIP = ip.String()
	}

	sessions := s.deps.Hub.List()
	guests, err := s.deps.Guests.ListCodes(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("listing guest codes failed")
	}

	data := dashboardData{
		Uptime:          formatUptime(time.Since(s.deps.StartedAt)),
		WSURL:           fmt.Sprintf("%s://%s:%d", scheme, localIP, cfg.Port),
		WorkingDirShort: shortenPath(cfg.WorkingDir, 30),
		State:           state,
		DeviceLock:      deviceLock,
		TLSStatus:       tlsStatus,
		TokenMasked:     config.MaskTokenEnds(cfg.Token),
		TailscaleIP:     tailscaleIP,
		SessionCount:    len(sessions),
		Sessions:        sessions,
		Guests:          guests,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "dashboard.tmpl", data); err != nil {
		s.logger.Error().Err(err).Msg("rendering dashboard failed")
	}
}

func toGuestView(g security.GuestCode, link string) guestView {
	v := guestView{
		Code:       g.Code,
		Name:       g.Name,
		Permission: g.PermissionLevel,
		Status:     g.Status(),
		UseCount:   g.UseCount,
		MaxUses:    g.MaxUses,
		DeepLink:   link,
	}
	if !g.ExpiresAt.IsZero() {
		v.ExpiresAt = g.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return v
}

// formatUptime renders a duration as h:mm:ss, days folded into hours
// past 24h.
func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// shortenPath keeps the tail of long paths so the interesting part,
// the leaf directory, stays visible.
func shortenPath(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return "..." + p[len(p)-(max-3):]
}
