// Package authscope provides the ordered role/scope enum shared by the
// command queue's minimalRole gating and the Privet access-token scheme.
//
// Adapted from the teacher's pkg/rbac Role/Permission concept
// (github.com/freitascorp/devopsclaw pkg/rbac/rbac.go): that package
// matches string permissions with wildcard rules ("fleet:*"), which
// doesn't fit a single linear privilege scale. Scope collapses it down
// to a small total order, keeping the same "named level, string
// constructor validates the raw input" shape.
package authscope

import "fmt"

// Scope is an ordered privilege level. Scopes compare with plain <, <=,
// ==, which is the one operation every caller of this package needs:
// "does the caller's role meet or exceed the command's minimalRole".
type Scope int

const (
	None Scope = iota
	Viewer
	User
	Manager
	Owner
)

var names = [...]string{"none", "viewer", "user", "manager", "owner"}

// String renders the scope using its wire name (lowercase).
func (s Scope) String() string {
	if s < None || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

// ParseScope parses one of "viewer", "user", "manager", "owner" (or the
// internal "none"). An unrecognized string is an error — callers
// (trait-definition loading, Privet auth) must reject malformed role
// names rather than silently defaulting to a privilege level.
func ParseScope(s string) (Scope, error) {
	for i, n := range names {
		if n == s {
			return Scope(i), nil
		}
	}
	return None, fmt.Errorf("authscope: unrecognized role %q", s)
}

// Meets reports whether the caller's scope satisfies a required minimum.
func (s Scope) Meets(minimum Scope) bool {
	return s >= minimum
}

// Min returns the lesser of two scopes, used when a requested scope must
// be capped by a configured ceiling (e.g. anonymous access role capped
// by the caller's desired scope).
func Min(a, b Scope) Scope {
	if a < b {
		return a
	}
	return b
}
