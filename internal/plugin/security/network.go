package security

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// HostPolicy restricts which hosts a plugin's network requests may reach.
// An empty policy allows every host.
type HostPolicy struct {
	mu      sync.RWMutex
	allowed []string
	blocked []string
}

// NewHostPolicy creates a policy from allow and block lists. Patterns may
// use a leading "*." wildcard.
func NewHostPolicy(allowed, blocked []string) *HostPolicy {
	hp := &HostPolicy{}
	for _, h := range allowed {
		hp.Allow(h)
	}
	for _, h := range blocked {
		hp.Block(h)
	}
	return hp
}

// Allow adds a host pattern to the allowed list.
func (hp *HostPolicy) Allow(pattern string) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.allowed = append(hp.allowed, strings.ToLower(pattern))
}

// Block adds a host pattern to the blocked list.
func (hp *HostPolicy) Block(pattern string) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.blocked = append(hp.blocked, strings.ToLower(pattern))
}

// Check returns an error wrapping ErrHostBlocked if hostPort may not be
// contacted. Blocked patterns win over allowed ones.
func (hp *HostPolicy) Check(hostPort string) error {
	if hp == nil {
		return nil
	}
	hp.mu.RLock()
	defer hp.mu.RUnlock()

	host := strings.ToLower(extractHost(hostPort))

	for _, blocked := range hp.blocked {
		if matchHost(host, blocked) {
			return fmt.Errorf("%w: %s is blocked", ErrHostBlocked, host)
		}
	}

	if len(hp.allowed) == 0 {
		return nil
	}
	for _, allowed := range hp.allowed {
		if matchHost(host, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not in the allowed list", ErrHostBlocked, host)
}

// extractHost strips the port from host:port, handling bracketed IPv6.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}

// matchHost matches host against an exact or "*.suffix" pattern.
func matchHost(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}
