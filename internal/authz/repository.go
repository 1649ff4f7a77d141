package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-io/gatehouse/internal/platform/db"
)

// isUniqueViolation reports whether err is a postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AssignmentTarget identifies a (principal, scope) pair holding at least one
// role, used by the cache warmup job.
type AssignmentTarget struct {
	PrincipalID int64
	ScopeID     int64
}

// Repository defines persistence operations for the authorization core.
type Repository interface {
	PermissionsFor(ctx context.Context, principalID int64, scopeIDs []int64) ([]string, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	SetRoleScopes(ctx context.Context, roleID int64, scopeIDs []int64) error
	RoleEligibleInScope(ctx context.Context, roleID, scopeID int64) (bool, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, code, description string) (Permission, error)
	CreateGroup(ctx context.Context, name string) (Group, error)
	GetScope(ctx context.Context, id int64) (Scope, error)
	AddAssignment(ctx context.Context, principalID, scopeID, roleID int64) error
	ReplaceAssignments(ctx context.Context, principalID, scopeID int64, roleIDs []int64) error
	ListAssignmentTargets(ctx context.Context) ([]AssignmentTarget, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// PermissionsFor returns the deduplicated permission codes granted to a
// principal through roles assigned in any of the given scopes.
func (r *PGRepository) PermissionsFor(ctx context.Context, principalID int64, scopeIDs []int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.code
		FROM role_assignments ra
		JOIN role_permissions rp ON rp.role_id = ra.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ra.principal_id = $1 AND ra.scope_id = ANY($2)
		ORDER BY p.code`, principalID, scopeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, description, created_at, updated_at`,
		strings.TrimSpace(name), strings.TrimSpace(description), now).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, ErrDuplicate
		}
		return Role{}, err
	}
	return role, nil
}

// SetRolePermissions replaces the permission set attached to a role.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, roleID, pid); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetRoleScopes replaces the scopes a role is eligible to be assigned in.
func (r *PGRepository) SetRoleScopes(ctx context.Context, roleID int64, scopeIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_scopes WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, sid := range scopeIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_scopes (role_id, scope_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, roleID, sid); err != nil {
				return err
			}
		}
		return nil
	})
}

// RoleEligibleInScope reports whether the role may be assigned in the scope.
func (r *PGRepository) RoleEligibleInScope(ctx context.Context, roleID, scopeID int64) (bool, error) {
	var eligible bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_scopes WHERE role_id = $1 AND scope_id = $2)`,
		roleID, scopeID).Scan(&eligible)
	if err != nil {
		return false, err
	}
	return eligible, nil
}

// ListPermissions returns the permission catalog ordered by code.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission by its unique code.
func (r *PGRepository) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, description) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, code, description`,
		strings.TrimSpace(code), strings.TrimSpace(description)).
		Scan(&p.ID, &p.Code, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// CreateGroup inserts a group together with its owning scope in one
// transaction so no group ever exists without a scope.
func (r *PGRepository) CreateGroup(ctx context.Context, name string) (Group, error) {
	var group Group
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if err := tx.QueryRow(ctx, `
			INSERT INTO groups (name, status, created_at) VALUES ($1, 'active', $2)
			RETURNING id, name, status, created_at`,
			strings.TrimSpace(name), now).
			Scan(&group.ID, &group.Name, &group.Status, &group.CreatedAt); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `INSERT INTO scopes (group_id) VALUES ($1) RETURNING id`, group.ID).
			Scan(&group.ScopeID)
	})
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// GetScope fetches a scope by ID.
func (r *PGRepository) GetScope(ctx context.Context, id int64) (Scope, error) {
	var scope Scope
	err := r.pool.QueryRow(ctx, `SELECT id, group_id FROM scopes WHERE id = $1`, id).
		Scan(&scope.ID, &scope.GroupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scope{}, ErrNotFound
		}
		return Scope{}, err
	}
	return scope, nil
}

// AddAssignment records a single role assignment.
func (r *PGRepository) AddAssignment(ctx context.Context, principalID, scopeID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_assignments (principal_id, scope_id, role_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, principalID, scopeID, roleID, time.Now().UTC())
	return err
}

// ReplaceAssignments swaps the whole assignment set for a (principal, scope)
// pair in one transaction; a failure leaves the previous set intact.
func (r *PGRepository) ReplaceAssignments(ctx context.Context, principalID, scopeID int64, roleIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM role_assignments WHERE principal_id = $1 AND scope_id = $2`,
			principalID, scopeID); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_assignments (principal_id, scope_id, role_id, created_at)
				VALUES ($1, $2, $3, $4)`, principalID, scopeID, roleID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAssignmentTargets returns every (principal, scope) pair holding at
// least one role.
func (r *PGRepository) ListAssignmentTargets(ctx context.Context) ([]AssignmentTarget, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT principal_id, scope_id FROM role_assignments ORDER BY principal_id, scope_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var targets []AssignmentTarget
	for rows.Next() {
		var t AssignmentTarget
		if err := rows.Scan(&t.PrincipalID, &t.ScopeID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
