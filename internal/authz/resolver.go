package authz

import (
	"context"
	"errors"
	"fmt"
)

// Resolver computes the effective permission set for a principal within a
// scope: the union of permissions from roles assigned in the requested scope
// and in the global scope. Reads go through the versioned cache; persistent
// storage failures propagate so callers fail closed.
type Resolver struct {
	repo  Repository
	cache *Cache
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, cache *Cache) *Resolver {
	return &Resolver{repo: repo, cache: cache}
}

// Resolve returns the effective permission set for (principal, scope).
// scopeID <= 0 means global scope only.
func (r *Resolver) Resolve(ctx context.Context, principalID, scopeID int64) (PermissionSet, error) {
	if scopeID < 0 {
		scopeID = 0
	}
	perms, ver, ok := r.cache.GetUserPermissions(ctx, principalID, scopeID)
	if ok {
		return perms, nil
	}

	scopes := []int64{GlobalScopeID}
	if scopeID > 0 && scopeID != GlobalScopeID {
		scopes = append(scopes, scopeID)
	}
	codes, err := r.repo.PermissionsFor(ctx, principalID, scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: load assignments for principal %d: %v", ErrStorageUnavailable, principalID, err)
	}

	perms = NewPermissionSet(codes...)
	r.cache.SetUserPermissions(ctx, principalID, scopeID, ver, perms)
	return perms, nil
}

// UserHasPermissions reports whether required is a subset of the principal's
// effective permissions in the scope. An empty required list is rejected: the
// gate handles sentinel requirements before ever reaching resolution, and a
// direct caller passing nothing is a programming error, not a grant.
func (r *Resolver) UserHasPermissions(ctx context.Context, principalID, scopeID int64, required []string) (bool, error) {
	if len(required) == 0 {
		return false, errors.New("authz: no permissions specified")
	}
	perms, err := r.Resolve(ctx, principalID, scopeID)
	if err != nil {
		return false, err
	}
	return len(perms.Missing(required)) == 0, nil
}
