package security

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is matched by every *PermissionError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrHostBlocked indicates a network request to a disallowed host.
	ErrHostBlocked = errors.New("host not allowed")

	// ErrRateLimited indicates the plugin exceeded a rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// PermissionError reports a method invoked without its gating permission.
type PermissionError struct {
	Permission Permission
	Method     Method
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s requires %q", ErrPermissionDenied, e.Method, e.Permission)
}

// Unwrap returns ErrPermissionDenied.
func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}
