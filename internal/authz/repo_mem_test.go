package authz

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStorageDown = errors.New("storage down")

type assignmentKey struct {
	principalID int64
	scopeID     int64
}

// memRepo is an in-memory Repository used by the authz tests.
type memRepo struct {
	mu            sync.Mutex
	perms         map[int64]Permission
	roles         map[int64]Role
	rolePerms     map[int64]map[int64]struct{}
	roleScopes    map[int64]map[int64]struct{}
	scopes        map[int64]Scope
	groups        map[int64]Group
	assignments   map[assignmentKey][]int64
	nextID        int64
	permsForCalls int
	failStorage   bool
	failReplace   bool

	// permsForHook fires once, after PermissionsFor computed its result but
	// before it returns, to model work racing a storage read.
	permsForHook func()
}

func newMemRepo() *memRepo {
	r := &memRepo{
		perms:       make(map[int64]Permission),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64]map[int64]struct{}),
		roleScopes:  make(map[int64]map[int64]struct{}),
		scopes:      make(map[int64]Scope),
		groups:      make(map[int64]Group),
		assignments: make(map[assignmentKey][]int64),
		nextID:      100,
	}
	r.scopes[GlobalScopeID] = Scope{ID: GlobalScopeID}
	return r
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) seedScope(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[id] = Scope{ID: id}
}

func (r *memRepo) seedRole(name string, permCodes []string, eligibleScopes ...int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	roleID := r.id()
	r.roles[roleID] = Role{ID: roleID, Name: name}
	r.rolePerms[roleID] = make(map[int64]struct{})
	for _, code := range permCodes {
		permID := r.id()
		r.perms[permID] = Permission{ID: permID, Code: code}
		r.rolePerms[roleID][permID] = struct{}{}
	}
	r.roleScopes[roleID] = make(map[int64]struct{})
	for _, scopeID := range eligibleScopes {
		r.roleScopes[roleID][scopeID] = struct{}{}
	}
	return roleID
}

func (r *memRepo) seedAssignment(principalID, scopeID, roleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey{principalID: principalID, scopeID: scopeID}
	r.assignments[key] = append(r.assignments[key], roleID)
}

func (r *memRepo) PermissionsFor(ctx context.Context, principalID int64, scopeIDs []int64) ([]string, error) {
	r.mu.Lock()
	r.permsForCalls++
	if r.failStorage {
		r.mu.Unlock()
		return nil, errStorageDown
	}
	seen := make(map[string]struct{})
	var codes []string
	for _, scopeID := range scopeIDs {
		for _, roleID := range r.assignments[assignmentKey{principalID: principalID, scopeID: scopeID}] {
			for permID := range r.rolePerms[roleID] {
				code := r.perms[permID].Code
				if _, ok := seen[code]; ok {
					continue
				}
				seen[code] = struct{}{}
				codes = append(codes, code)
			}
		}
	}
	hook := r.permsForHook
	r.permsForHook = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return codes, nil
}

func (r *memRepo) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return nil, errStorageDown
	}
	var roles []Role
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	return roles, nil
}

func (r *memRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return Role{}, errStorageDown
	}
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (r *memRepo) CreateRole(ctx context.Context, name, description string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return Role{}, errStorageDown
	}
	for _, existing := range r.roles {
		if existing.Name == name {
			return Role{}, ErrDuplicate
		}
	}
	role := Role{ID: r.id(), Name: name, Description: description, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.roles[role.ID] = role
	r.rolePerms[role.ID] = make(map[int64]struct{})
	r.roleScopes[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (r *memRepo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return errStorageDown
	}
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	r.rolePerms[roleID] = set
	return nil
}

func (r *memRepo) SetRoleScopes(ctx context.Context, roleID int64, scopeIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return errStorageDown
	}
	set := make(map[int64]struct{}, len(scopeIDs))
	for _, id := range scopeIDs {
		set[id] = struct{}{}
	}
	r.roleScopes[roleID] = set
	return nil
}

func (r *memRepo) RoleEligibleInScope(ctx context.Context, roleID, scopeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return false, errStorageDown
	}
	_, ok := r.roleScopes[roleID][scopeID]
	return ok, nil
}

func (r *memRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return nil, errStorageDown
	}
	var perms []Permission
	for _, p := range r.perms {
		perms = append(perms, p)
	}
	return perms, nil
}

func (r *memRepo) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return Permission{}, errStorageDown
	}
	for _, p := range r.perms {
		if p.Code == code {
			return p, nil
		}
	}
	p := Permission{ID: r.id(), Code: code, Description: description}
	r.perms[p.ID] = p
	return p, nil
}

func (r *memRepo) CreateGroup(ctx context.Context, name string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return Group{}, errStorageDown
	}
	group := Group{ID: r.id(), Name: name, Status: "active", CreatedAt: time.Now()}
	groupID := group.ID
	scope := Scope{ID: r.id(), GroupID: &groupID}
	r.scopes[scope.ID] = scope
	group.ScopeID = scope.ID
	r.groups[group.ID] = group
	return group, nil
}

func (r *memRepo) GetScope(ctx context.Context, id int64) (Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return Scope{}, errStorageDown
	}
	scope, ok := r.scopes[id]
	if !ok {
		return Scope{}, ErrNotFound
	}
	return scope, nil
}

func (r *memRepo) AddAssignment(ctx context.Context, principalID, scopeID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return errStorageDown
	}
	key := assignmentKey{principalID: principalID, scopeID: scopeID}
	for _, existing := range r.assignments[key] {
		if existing == roleID {
			return nil
		}
	}
	r.assignments[key] = append(r.assignments[key], roleID)
	return nil
}

func (r *memRepo) ReplaceAssignments(ctx context.Context, principalID, scopeID int64, roleIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage || r.failReplace {
		return errStorageDown
	}
	key := assignmentKey{principalID: principalID, scopeID: scopeID}
	r.assignments[key] = append([]int64(nil), roleIDs...)
	return nil
}

func (r *memRepo) ListAssignmentTargets(ctx context.Context) ([]AssignmentTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStorage {
		return nil, errStorageDown
	}
	var targets []AssignmentTarget
	for key := range r.assignments {
		targets = append(targets, AssignmentTarget{PrincipalID: key.principalID, ScopeID: key.scopeID})
	}
	return targets, nil
}

var _ Repository = (*memRepo)(nil)
