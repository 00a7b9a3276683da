// SPDX-License-Identifier: MIT

package daemon

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
// This allows for clean dependency injection and easier testing.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Handler serves the main listener: websocket endpoint, health
	// probes, admin pages.
	Handler http.Handler

	// TLSConfig switches the main listener to HTTPS when set. Built by
	// tlsutil.ServerConfig so mutual TLS arrives preconfigured.
	TLSConfig *tls.Config

	// MetricsHandler is served on its own listener when MetricsAddr is
	// non-empty.
	MetricsHandler http.Handler
	MetricsAddr    string

	// State receives lifecycle transitions as the servers come up and
	// down. Optional.
	State *State
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Handler == nil {
		return ErrMissingHandler
	}
	return nil
}

// ServerConfig holds the HTTP server tuning for the main listener.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the listener tuning used in production.
// Write timeout stays moderate; websocket connections are hijacked
// after the handshake and manage their own deadlines.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		ListenAddr:      addr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}
