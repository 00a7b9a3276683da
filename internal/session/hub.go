package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/metrics"
)

// ErrSessionLimit is returned when an IP already holds the maximum
// number of sessions.
var ErrSessionLimit = errors.New("session limit reached for this address")

// Hub holds all live sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxPerIP int
	logger   zerolog.Logger
}

// NewHub builds a hub enforcing maxPerIP concurrent sessions per
// client address.
func NewHub(maxPerIP int) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		maxPerIP: maxPerIP,
		logger:   log.WithComponent("session"),
	}
}

// Add registers a session, rejecting it when its IP is at the cap.
func (h *Hub) Add(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for _, existing := range h.sessions {
		if existing.ClientIP == s.ClientIP {
			count++
		}
	}
	if h.maxPerIP > 0 && count >= h.maxPerIP {
		metrics.IncRejected("session_limit")
		h.logger.Warn().
			Str("event", "session.limit_reached").
			Str(log.FieldClientIP, s.ClientIP).
			Int("limit", h.maxPerIP).
			Msg("session rejected, per-address limit reached")
		return ErrSessionLimit
	}

	h.sessions[s.ID] = s

	kind := "owner"
	if s.IsGuest {
		kind = "guest"
	}
	metrics.IncSession(kind)
	metrics.SetSessionsActive(len(h.sessions))

	h.logger.Info().
		Str("event", "session.attached").
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldDeviceID, s.DeviceID).
		Str(log.FieldClientIP, s.ClientIP).
		Bool("guest", s.IsGuest).
		Str("permission", s.Permission).
		Msg("session attached")
	return nil
}

// Remove drops a session. Unknown IDs are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	metrics.SetSessionsActive(len(h.sessions))

	h.logger.Info().
		Str("event", "session.detached").
		Str(log.FieldSessionID, id).
		Str(log.FieldClientIP, s.ClientIP).
		Int64("messages", s.MessageCount()).
		Msg("session detached")
}

// Get returns a session by ID.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CountByIP returns how many sessions an address currently holds.
func (h *Hub) CountByIP(ip string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, s := range h.sessions {
		if s.ClientIP == ip {
			count++
		}
	}
	return count
}

// List returns snapshots of all sessions, oldest first.
func (h *Hub) List() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Snapshot, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
