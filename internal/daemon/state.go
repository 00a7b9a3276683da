package daemon

import "sync/atomic"

// Lifecycle states reported through websocket state frames, the
// readiness endpoint, and the admin dashboard.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// State tracks the daemon lifecycle. Readers get a plain string so
// packages observing the state need no daemon import.
type State struct {
	v atomic.Value
}

// NewState returns a State in the starting phase.
func NewState() *State {
	s := &State{}
	s.v.Store(StateStarting)
	return s
}

// Set records a lifecycle transition.
func (s *State) Set(state string) { s.v.Store(state) }

// Get returns the current lifecycle state.
func (s *State) Get() string { return s.v.Load().(string) }
