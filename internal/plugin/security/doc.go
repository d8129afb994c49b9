// Package security provides the permission model for sandboxed plugins.
//
// # Permissions
//
// A plugin declares a fixed set of permissions in its manifest. The set
// of permissions is closed: Permission values outside the declared
// constants cannot be parsed, marshaled or granted. A Set is a bitmask of
// granted permissions and is cheap to copy across goroutines.
//
// # Methods
//
// Every call a plugin can make across the sandbox boundary is named by a
// Method. Method.Permission reports which permission gates the method,
// using an exhaustive switch so that adding a method without deciding
// its gate fails the method catalog tests.
//
// The same check runs twice: inside the sandboxed interpreter before a
// host call is issued, and on the host before the handler runs. Only the
// host check is authoritative.
//
// # Limits
//
// Limits carries per-plugin resource limits: the per-call timeout for
// boundary crossings, the network request rate and the response size
// cap. HostPolicy restricts which hosts network requests may reach.
//
// Example usage:
//
//	perms := security.NewSet(security.PermReadData, security.PermNetworkAccess)
//	if err := perms.Check(security.MethodDataWrite); err != nil {
//	    // *PermissionError, errors.Is(err, ErrPermissionDenied)
//	}
package security
