package authz

import "strings"

type requirementKind int

const (
	requirementNone requirementKind = iota
	requirementPublic
	requirementAuthenticated
	requirementPermissions
)

// Requirement declares what a route demands before its handler may run. The
// zero value declares nothing and is always denied: a route missing an
// explicit requirement is a bug, never public.
type Requirement struct {
	kind        requirementKind
	permissions []string
}

// Public marks a route reachable without a principal.
func Public() Requirement {
	return Requirement{kind: requirementPublic}
}

// Authenticated marks a route reachable by any logged-in principal.
func Authenticated() Requirement {
	return Requirement{kind: requirementAuthenticated}
}

// Require demands every listed permission in the ambient scope. Calling it
// with no codes (or only blank codes) yields the zero Requirement, which the
// gate denies.
func Require(permissions ...string) Requirement {
	normalized := make([]string, 0, len(permissions))
	seen := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	if len(normalized) == 0 {
		return Requirement{}
	}
	return Requirement{kind: requirementPermissions, permissions: normalized}
}

// IsDeclared reports whether the requirement carries an explicit declaration.
func (r Requirement) IsDeclared() bool {
	return r.kind != requirementNone
}

// Permissions returns the declared permission codes, nil for sentinel kinds.
func (r Requirement) Permissions() []string {
	return r.permissions
}

// String renders the requirement for logs.
func (r Requirement) String() string {
	switch r.kind {
	case requirementPublic:
		return "public"
	case requirementAuthenticated:
		return "authenticated"
	case requirementPermissions:
		return strings.Join(r.permissions, ",")
	default:
		return "undeclared"
	}
}
