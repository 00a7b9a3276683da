// Package session tracks the client sessions currently attached to
// the server and enforces the per-IP session cap.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one connected client. Mutable fields are guarded; the
// identity fields never change after creation.
type Session struct {
	ID         string
	DeviceID   string
	DeviceName string
	ClientIP   string
	IsGuest    bool
	GuestCode  string
	Permission string
	CreatedAt  time.Time

	mu           sync.Mutex
	lastActive   time.Time
	messageCount int64
}

// New creates a session with a fresh ID.
func New(deviceID, deviceName, clientIP string, isGuest bool, permission string) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		ClientIP:   clientIP,
		IsGuest:    isGuest,
		Permission: permission,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Touch records client activity, bumping the message counter.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
	s.messageCount++
}

// MessageCount returns how many frames the client has sent.
func (s *Session) MessageCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// LastActive returns the time of the last client frame.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Snapshot is the read-only view served to the admin dashboard.
type Snapshot struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name"`
	ClientIP     string    `json:"client_ip"`
	IsGuest      bool      `json:"is_guest"`
	Permission   string    `json:"permission"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		DeviceName:   s.DeviceName,
		ClientIP:     s.ClientIP,
		IsGuest:      s.IsGuest,
		Permission:   s.Permission,
		MessageCount: s.messageCount,
		CreatedAt:    s.CreatedAt,
		LastActive:   s.lastActive,
	}
}
