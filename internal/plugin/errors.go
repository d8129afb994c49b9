package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin is not installed.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyInstalled is returned when installing an id that exists.
	ErrAlreadyInstalled = errors.New("plugin is already installed")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrInvalidManifest is matched by every *ValidationError.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrDependency is matched by every *DependencyError.
	ErrDependency = errors.New("plugin dependency not satisfied")

	// ErrInvalidState is matched by every *LifecycleError.
	ErrInvalidState = errors.New("invalid plugin state")

	// ErrInvalidConfig is returned when a config does not match the
	// manifest's config schema.
	ErrInvalidConfig = errors.New("invalid plugin config")

	// ErrInvalidUpdate is returned when a manifest cannot replace the
	// installed one.
	ErrInvalidUpdate = errors.New("invalid plugin update")
)

// ValidationError reports a manifest field that is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidManifest, e.Field, e.Reason)
}

// Unwrap returns ErrInvalidManifest.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidManifest
}

// DependencyError reports a missing or under-versioned dependency, or a
// dependency that cannot be removed because Plugin still needs it.
type DependencyError struct {
	Plugin     string
	Dependency string
	Required   string // minimum version
	Found      string // installed version, empty when missing
	InUse      bool
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	switch {
	case e.InUse:
		return fmt.Sprintf("%s: %q is required by %q", ErrDependency, e.Dependency, e.Plugin)
	case e.Found == "":
		return fmt.Sprintf("%s: %q needs %q which is not installed", ErrDependency, e.Plugin, e.Dependency)
	default:
		return fmt.Sprintf("%s: %q needs %q >= %s, found %s",
			ErrDependency, e.Plugin, e.Dependency, e.Required, e.Found)
	}
}

// Unwrap returns ErrDependency.
func (e *DependencyError) Unwrap() error {
	return ErrDependency
}

// LifecycleError reports an operation attempted in a state that does
// not allow it.
type LifecycleError struct {
	Plugin string
	Op     string
	Status Status
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: cannot %s %q while %s", ErrInvalidState, e.Op, e.Plugin, e.Status)
}

// Unwrap returns ErrInvalidState.
func (e *LifecycleError) Unwrap() error {
	return ErrInvalidState
}
