package authz

import "errors"

var (
	// ErrAuthenticationRequired indicates no principal is present where one
	// is mandatory. Distinct from ErrPermissionDenied so the HTTP layer can
	// answer 401 instead of 403.
	ErrAuthenticationRequired = errors.New("authz: authentication required")
	// ErrPermissionDenied indicates the principal lacks required permissions
	// in the requested scope.
	ErrPermissionDenied = errors.New("authz: permission denied")
	// ErrScopeRequired indicates an operation needs a tenant scope but none
	// was selected.
	ErrScopeRequired = errors.New("authz: scope required")
	// ErrInvalidRoleScope indicates an attempted assignment of a role in a
	// scope it is not eligible for.
	ErrInvalidRoleScope = errors.New("authz: role not assignable in scope")
	// ErrStorageUnavailable indicates the backing store could not be
	// reached. Permission resolution fails closed on it.
	ErrStorageUnavailable = errors.New("authz: storage unavailable")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrDuplicate indicates a uniqueness violation, such as reusing a role
	// name.
	ErrDuplicate = errors.New("authz: duplicate")
)
