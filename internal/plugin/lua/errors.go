package lua

import "errors"

// Errors raised inside the unit and sent to the host as messages.
var (
	// ErrNotExported is reported when a hook or function is not exported.
	ErrNotExported = errors.New("not exported by plugin")

	// ErrNoTask is raised when a host call is made outside plugin code.
	ErrNoTask = errors.New("host call outside a running task")

	// ErrShuttingDown is raised when a host call cannot complete because
	// the unit is stopping.
	ErrShuttingDown = errors.New("unit is shutting down")
)
