package security

import (
	"fmt"
	"math/bits"
	"strings"
)

// Permission is a capability a plugin may declare in its manifest.
type Permission uint8

// Declared permissions. The zero value is not a valid permission.
const (
	PermReadData Permission = iota + 1
	PermWriteData
	PermAccessAPI
	PermModifyUI
	PermExecuteCode
	PermAccessFilesystem
	PermNetworkAccess
	PermNotifications
	PermBackgroundTasks

	permLimit
)

// RiskLevel indicates the security risk of a permission.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Info provides metadata about a permission.
type Info struct {
	Permission  Permission
	Name        string
	DisplayName string
	Description string
	RiskLevel   RiskLevel
}

var permissionInfo = [permLimit]Info{
	PermReadData: {
		Permission:  PermReadData,
		Name:        "read-data",
		DisplayName: "Read Data",
		Description: "Read application data",
		RiskLevel:   RiskLow,
	},
	PermWriteData: {
		Permission:  PermWriteData,
		Name:        "write-data",
		DisplayName: "Write Data",
		Description: "Create, modify and delete application data",
		RiskLevel:   RiskMedium,
	},
	PermAccessAPI: {
		Permission:  PermAccessAPI,
		Name:        "access-api",
		DisplayName: "API Access",
		Description: "Call host application APIs",
		RiskLevel:   RiskMedium,
	},
	PermModifyUI: {
		Permission:  PermModifyUI,
		Name:        "modify-ui",
		DisplayName: "Modify UI",
		Description: "Show modals and register components and pages",
		RiskLevel:   RiskMedium,
	},
	PermExecuteCode: {
		Permission:  PermExecuteCode,
		Name:        "execute-code",
		DisplayName: "Execute Code",
		Description: "Run code on behalf of the user",
		RiskLevel:   RiskHigh,
	},
	PermAccessFilesystem: {
		Permission:  PermAccessFilesystem,
		Name:        "access-filesystem",
		DisplayName: "Filesystem Access",
		Description: "Read and write files",
		RiskLevel:   RiskHigh,
	},
	PermNetworkAccess: {
		Permission:  PermNetworkAccess,
		Name:        "network-access",
		DisplayName: "Network Access",
		Description: "Make HTTP requests",
		RiskLevel:   RiskHigh,
	},
	PermNotifications: {
		Permission:  PermNotifications,
		Name:        "notifications",
		DisplayName: "Notifications",
		Description: "Show notifications",
		RiskLevel:   RiskLow,
	},
	PermBackgroundTasks: {
		Permission:  PermBackgroundTasks,
		Name:        "background-tasks",
		DisplayName: "Background Tasks",
		Description: "Run work while no hook is executing",
		RiskLevel:   RiskMedium,
	},
}

// AllPermissions returns every declared permission in declaration order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, permLimit-1)
	for p := PermReadData; p < permLimit; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is a declared permission.
func (p Permission) Valid() bool {
	return p >= PermReadData && p < permLimit
}

// String returns the manifest name of the permission.
func (p Permission) String() string {
	if !p.Valid() {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionInfo[p].Name
}

// Info returns metadata about the permission.
func (p Permission) Info() (Info, bool) {
	if !p.Valid() {
		return Info{}, false
	}
	return permissionInfo[p], true
}

// ParsePermission parses a manifest permission name.
func ParsePermission(s string) (Permission, error) {
	name := strings.TrimSpace(s)
	for p := PermReadData; p < permLimit; p++ {
		if permissionInfo[p].Name == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid permission %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Set is an immutable set of granted permissions.
type Set uint16

// NewSet builds a set from perms. Invalid permissions are ignored.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

// ParseSet parses a list of permission names.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return 0, err
		}
		s = s.With(p)
	}
	return s, nil
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	return p.Valid() && s&(1<<p) != 0
}

// With returns a copy of the set with p added.
func (s Set) With(p Permission) Set {
	if !p.Valid() {
		return s
	}
	return s | 1<<p
}

// Without returns a copy of the set with p removed.
func (s Set) Without(p Permission) Set {
	if !p.Valid() {
		return s
	}
	return s &^ (1 << p)
}

// Len returns the number of permissions in the set.
func (s Set) Len() int {
	return bits.OnesCount16(uint16(s))
}

// Empty reports whether the set grants nothing.
func (s Set) Empty() bool {
	return s == 0
}

// List returns the permissions in declaration order.
func (s Set) List() []Permission {
	out := make([]Permission, 0, s.Len())
	for p := PermReadData; p < permLimit; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Strings returns the manifest names of the permissions in the set.
func (s Set) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// Check returns a *PermissionError if m is gated by a permission the set
// does not contain.
func (s Set) Check(m Method) error {
	p, gated := m.Permission()
	if !gated || s.Has(p) {
		return nil
	}
	return &PermissionError{Permission: p, Method: m}
}

// String implements fmt.Stringer.
func (s Set) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}
