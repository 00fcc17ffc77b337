// Package identity resolves which quota scope a request belongs to.
// All functions are pure - same input always produces same output.
package identity

import "strings"

// Identity is the (device, ip, user) triple attached to every request (value type).
type Identity struct {
	DeviceID string
	IP       string
	UserID   string // empty for anonymous requests
}

// Authenticated reports whether the identity carries a user id.
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// ScopeKind selects which identity dimension a lookup matches on.
type ScopeKind string

const (
	ScopeUser   ScopeKind = "user"   // match on user id only
	ScopeDevice ScopeKind = "device" // match anonymous entries on device id OR ip
)

// Scope is the canonical lookup predicate for the usage ledger (value type).
type Scope struct {
	Kind     ScopeKind
	UserID   string
	DeviceID string
	IP       string
}

// Resolve returns the lookup scope for an identity.
// An authenticated identity is always scoped by user id, so a device that signs in
// starts a separate ledger from its anonymous history.
func Resolve(id Identity) Scope {
	if id.Authenticated() {
		return Scope{Kind: ScopeUser, UserID: id.UserID}
	}
	return Scope{Kind: ScopeDevice, DeviceID: id.DeviceID, IP: id.IP}
}

// Empty reports whether the scope cannot match anything.
func (s Scope) Empty() bool {
	switch s.Kind {
	case ScopeUser:
		return s.UserID == ""
	case ScopeDevice:
		return s.DeviceID == "" && s.IP == ""
	default:
		return true
	}
}

// Matches reports whether an entry with the given identity fields is selected by the scope.
func (s Scope) Matches(deviceID, ip, userID string) bool {
	switch s.Kind {
	case ScopeUser:
		return s.UserID != "" && userID == s.UserID
	case ScopeDevice:
		if userID != "" {
			return false
		}
		return (s.DeviceID != "" && deviceID == s.DeviceID) ||
			(s.IP != "" && ip == s.IP)
	default:
		return false
	}
}

// String renders the scope for logs.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeUser:
		return "user:" + s.UserID
	case ScopeDevice:
		parts := make([]string, 0, 2)
		if s.DeviceID != "" {
			parts = append(parts, "device:"+s.DeviceID)
		}
		if s.IP != "" {
			parts = append(parts, "ip:"+s.IP)
		}
		return strings.Join(parts, "|")
	default:
		return "unknown"
	}
}

// ClientIP picks the client address from a forwarded-for header value and the
// transport peer address. The first forwarded entry wins.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return stripPort(remoteAddr)
}

func stripPort(addr string) string {
	// [::1]:8080
	if strings.HasPrefix(addr, "[") {
		if end := strings.Index(addr, "]"); end != -1 {
			return addr[1:end]
		}
	}
	// Bare IPv6 has more than one colon and no port.
	if strings.Count(addr, ":") > 1 {
		return addr
	}
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
