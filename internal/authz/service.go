package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Service orchestrates role, group, and assignment mutations. Every mutation
// that can change an effective permission set bumps the cache version.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// SyncOptions controls role synchronisation behaviour.
type SyncOptions struct {
	// BypassScopeValidation skips role/scope eligibility checks. Only a
	// system administrator may set it; the bypass is logged.
	BypassScopeValidation bool
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("authz: role name required")
	}
	return s.repo.CreateRole(ctx, name, description)
}

// SetRolePermissions replaces the permissions bundled in a role and expires
// cached permission sets.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.cache.InvalidateUser(ctx, 0)
	return nil
}

// SetRoleScopes replaces the scopes a role may be assigned in. Eligibility
// only gates future assignments, so no cache invalidation is needed.
func (s *Service) SetRoleScopes(ctx context.Context, roleID int64, scopeIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.SetRoleScopes(ctx, roleID, scopeIDs)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission by code.
func (s *Service) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return Permission{}, errors.New("authz: permission code required")
	}
	return s.repo.EnsurePermission(ctx, code, description)
}

// CreateGroup creates a tenant group together with its owning scope.
func (s *Service) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, errors.New("authz: group name required")
	}
	return s.repo.CreateGroup(ctx, name)
}

// AssignRole grants a single role to a principal within a scope, validating
// role/scope eligibility unless the actor is a system administrator.
func (s *Service) AssignRole(ctx context.Context, actor Actor, principalID, scopeID, roleID int64) error {
	if scopeID <= 0 {
		return ErrScopeRequired
	}
	if err := s.validateEligibility(ctx, actor, scopeID, []int64{roleID}, false); err != nil {
		return err
	}
	if err := s.repo.AddAssignment(ctx, principalID, scopeID, roleID); err != nil {
		return fmt.Errorf("%w: add assignment: %v", ErrStorageUnavailable, err)
	}
	s.cache.InvalidateUser(ctx, principalID)
	return nil
}

// SyncRoles replaces the entire role set for a (principal, scope) pair. The
// replacement is transactional: a failure leaves the previous assignments
// untouched rather than a mixed old/new state.
func (s *Service) SyncRoles(ctx context.Context, actor Actor, principalID, scopeID int64, roleIDs []int64, opts SyncOptions) error {
	if scopeID <= 0 {
		return ErrScopeRequired
	}
	if err := s.validateEligibility(ctx, actor, scopeID, roleIDs, opts.BypassScopeValidation); err != nil {
		return err
	}
	if err := s.repo.ReplaceAssignments(ctx, principalID, scopeID, roleIDs); err != nil {
		return fmt.Errorf("%w: replace assignments: %v", ErrStorageUnavailable, err)
	}
	s.cache.InvalidateUser(ctx, principalID)
	return nil
}

// validateEligibility rejects assignments of roles in scopes they are not
// declared assignable in. The global scope accepts any role. A system
// administrator may bypass the check; the bypass is an explicit, logged path,
// never an implicit default.
func (s *Service) validateEligibility(ctx context.Context, actor Actor, scopeID int64, roleIDs []int64, bypass bool) error {
	if bypass {
		if !actor.SystemAdmin {
			return fmt.Errorf("%w: scope validation bypass requires system administrator", ErrPermissionDenied)
		}
		s.logger.Warn("role scope validation bypassed",
			slog.Int64("actor_id", actor.ID),
			slog.Int64("scope_id", scopeID))
		return nil
	}
	if scopeID == GlobalScopeID {
		return nil
	}
	if _, err := s.repo.GetScope(ctx, scopeID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: scope %d", ErrNotFound, scopeID)
		}
		return fmt.Errorf("%w: load scope: %v", ErrStorageUnavailable, err)
	}
	for _, roleID := range roleIDs {
		eligible, err := s.repo.RoleEligibleInScope(ctx, roleID, scopeID)
		if err != nil {
			return fmt.Errorf("%w: check eligibility: %v", ErrStorageUnavailable, err)
		}
		if !eligible {
			return fmt.Errorf("%w: role %d in scope %d", ErrInvalidRoleScope, roleID, scopeID)
		}
	}
	return nil
}
