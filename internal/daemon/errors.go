package daemon

import "errors"

var (
	// ErrMissingLogger is returned when logger is not provided
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingHandler is returned when the main HTTP handler is not provided
	ErrMissingHandler = errors.New("http handler is required")

	// ErrMissingManager is returned when a daemon app is created without a manager.
	ErrMissingManager = errors.New("manager is required")

	// ErrManagerNotStarted is returned when trying to shutdown a manager that hasn't started
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrNotRunning is returned when the pidfile names no live process.
	ErrNotRunning = errors.New("server is not running")

	// ErrAlreadyRunning is returned when a second instance would reuse the pidfile.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrStopTimeout is returned when a signalled process does not exit in time.
	ErrStopTimeout = errors.New("server did not stop before the timeout")
)
