package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/plugkit/internal/plugin/security"
)

var (
	// ErrDestroyed is returned by every call pending on or made after
	// Destroy.
	ErrDestroyed = errors.New("sandbox destroyed")

	// ErrCallTimeout is returned when a call stays pending longer than
	// the configured call timeout.
	ErrCallTimeout = errors.New("sandbox call timed out")

	// ErrExecution is matched by every *ExecutionError.
	ErrExecution = errors.New("plugin execution failed")

	// ErrUnknownMethod is returned to a unit that calls a method outside
	// the catalog.
	ErrUnknownMethod = errors.New("unknown host method")

	// ErrNoHandler is returned to a unit that calls a method the host did
	// not register.
	ErrNoHandler = errors.New("no handler registered")
)

// ExecutionError is an error raised inside the isolated unit. Only its
// message crosses the boundary.
type ExecutionError struct {
	Plugin  string
	Op      string
	Message string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %s", e.Plugin, e.Op, e.Message)
}

// Unwrap returns ErrExecution, plus security.ErrPermissionDenied when
// the unit reported a permission denial.
func (e *ExecutionError) Unwrap() []error {
	if strings.Contains(e.Message, security.ErrPermissionDenied.Error()) {
		return []error{ErrExecution, security.ErrPermissionDenied}
	}
	return []error{ErrExecution}
}

// HostCallError reports a host call the sandbox refused or a handler
// that failed.
type HostCallError struct {
	Method string
	Err    error
}

// Error implements the error interface.
func (e *HostCallError) Error() string {
	return fmt.Sprintf("host call %s: %v", e.Method, e.Err)
}

// Unwrap returns the underlying error.
func (e *HostCallError) Unwrap() error {
	return e.Err
}
