package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a strict MAJOR.MINOR.PATCH[-pre][+build] version.
func ParseVersion(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(s)
}

// MeetsMinimum reports whether found >= min.
func MeetsMinimum(found, min string) (bool, error) {
	fv, err := ParseVersion(found)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", found, err)
	}
	mv, err := ParseVersion(min)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", min, err)
	}
	return !fv.LessThan(mv), nil
}

// IsNewer reports whether next is strictly greater than current.
func IsNewer(current, next string) (bool, error) {
	cv, err := ParseVersion(current)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", current, err)
	}
	nv, err := ParseVersion(next)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", next, err)
	}
	return nv.GreaterThan(cv), nil
}
