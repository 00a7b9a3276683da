// Package ws implements the WebSocket endpoint phones connect to:
// authentication, the JSON frame protocol, and the bridge between a
// connection and the agent runner.
package ws

import (
	"time"

	"github.com/google/uuid"

	"github.com/darkcode/darkcode-server/internal/history"
	"github.com/darkcode/darkcode-server/internal/replay"
)

// Client→server frame types.
const (
	TypeHello     = "hello"
	TypePrompt    = "prompt"
	TypeInterrupt = "interrupt"
	TypeReplay    = "replay"
	TypePing      = "ping"
)

// Server→client frame types.
const (
	TypeReady   = "ready"
	TypeOutput  = "output"
	TypeState   = "state"
	TypeDone    = "done"
	TypeHistory = "history"
	TypeError   = "error"
	TypePong    = "pong"
)

// Error codes carried by error frames.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeDeviceLocked     = "DEVICE_LOCKED"
	CodeSessionLimit     = "SESSION_LIMIT"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeAgentBusy        = "AGENT_BUSY"
	CodeAgentFailed      = "AGENT_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
)

// Run states carried by state frames, alongside the server lifecycle
// states broadcast during startup and shutdown.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

// Envelope is the single frame shape used in both directions. Type
// selects which fields are meaningful; unused fields are omitted on
// the wire.
type Envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Ts   int64  `json:"ts"`

	// hello
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Version    string `json:"version,omitempty"`

	// prompt
	Text string `json:"text,omitempty"`

	// replay
	AfterSeq uint64 `json:"after_seq,omitempty"`

	// ready
	SessionID     string `json:"session_id,omitempty"`
	ServerName    string `json:"server_name,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
	Permission    string `json:"permission,omitempty"`

	// output
	Seq    uint64 `json:"seq,omitempty"`
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`

	// state
	State string `json:"state,omitempty"`

	// done; pointer so exit code 0 still serializes
	ExitCode *int `json:"exit_code,omitempty"`

	// history
	Messages []*history.Message `json:"messages,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func newEnvelope(typ string) Envelope {
	return Envelope{
		Type: typ,
		ID:   uuid.NewString(),
		Ts:   time.Now().UnixMilli(),
	}
}

func errorEnvelope(code, message string) Envelope {
	e := newEnvelope(TypeError)
	e.Code = code
	e.Message = message
	return e
}

func outputEnvelope(f replay.Frame) Envelope {
	e := newEnvelope(TypeOutput)
	e.Seq = f.Seq
	e.Stream = f.Stream
	e.Data = f.Data
	return e
}

func doneEnvelope(exitCode int) Envelope {
	e := newEnvelope(TypeDone)
	e.ExitCode = &exitCode
	return e
}

func stateEnvelope(state string) Envelope {
	e := newEnvelope(TypeState)
	e.State = state
	return e
}
