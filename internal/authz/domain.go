package authz

import (
	"sort"
	"time"
)

// GlobalScopeID identifies the single system-wide scope. It always exists and
// roles assigned in it apply regardless of the tenant scope a request selects.
const GlobalScopeID int64 = 1

// Permission represents an atomic capability. Codes are globally unique and
// immutable once created.
type Permission struct {
	ID          int64
	Code        string
	Description string
}

// Role is a named bundle of permissions. The scopes a role may be assigned in
// are declared separately via role/scope eligibility records.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scope is the unit of tenant isolation: either the global scope or a scope
// bound 1:1 to a group. The group binding is immutable after creation.
type Scope struct {
	ID      int64
	GroupID *int64
}

// IsGlobal reports whether the scope is the system-wide scope.
func (s Scope) IsGlobal() bool {
	return s.ID == GlobalScopeID
}

// Group is a tenant unit owning exactly one scope.
type Group struct {
	ID        int64
	Name      string
	Status    string
	ScopeID   int64
	CreatedAt time.Time
}

// RoleAssignment records that a principal holds a role within a scope.
type RoleAssignment struct {
	PrincipalID int64
	ScopeID     int64
	RoleID      int64
	CreatedAt   time.Time
}

// Actor identifies the caller performing an administrative mutation. System
// administrators may bypass role/scope eligibility checks; the bypass is an
// explicit, logged code path.
type Actor struct {
	ID          int64
	SystemAdmin bool
}

// PermissionSet is a deduplicated set of permission codes.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codes, dropping duplicates.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the set contains code.
func (p PermissionSet) Has(code string) bool {
	_, ok := p[code]
	return ok
}

// Missing returns the required codes absent from the set, sorted.
func (p PermissionSet) Missing(required []string) []string {
	var missing []string
	for _, code := range required {
		if !p.Has(code) {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	return missing
}

// Codes returns the set as a sorted slice, suitable for serialization.
func (p PermissionSet) Codes() []string {
	codes := make([]string, 0, len(p))
	for c := range p {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
