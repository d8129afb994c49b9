package plugin

import "fmt"

// Status represents the lifecycle status of an installed plugin.
type Status int

// Plugin statuses.
const (
	// StatusInstalled - installed, never loaded.
	StatusInstalled Status = iota + 1

	// StatusActive - a live sandbox runs the plugin.
	StatusActive

	// StatusInactive - unloaded; no sandbox.
	StatusInactive

	// StatusError - the last load failed; see Plugin.Error.
	StatusError
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	return s >= StatusInstalled && s <= StatusError
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for c := StatusInstalled; c <= StatusError; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}
