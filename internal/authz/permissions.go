package authz

// Platform permissions guarding the administrative surface.
const (
	// PermSystemAdmin marks a principal as system administrator, allowing
	// explicit role/scope validation bypass.
	PermSystemAdmin = "system.admin"

	PermRolesView       = "roles.view"
	PermRolesEdit       = "roles.edit"
	PermGroupsView      = "groups.view"
	PermGroupsEdit      = "groups.edit"
	PermAssignmentsEdit = "assignments.edit"
	PermPermissionsView = "permissions.view"
	PermAccessProbe     = "access.probe"
)

// CorePermissions lists all platform permissions, used by seeding and the
// permission catalog endpoint.
func CorePermissions() []string {
	return []string{
		PermSystemAdmin,
		PermRolesView,
		PermRolesEdit,
		PermGroupsView,
		PermGroupsEdit,
		PermAssignmentsEdit,
		PermPermissionsView,
		PermAccessProbe,
	}
}
