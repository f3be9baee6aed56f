package shared

// Permissions guarding the access administration surface.
const (
	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermPagesView = "pages.view"
	PermPagesEdit = "pages.edit"

	PermAccessView = "access.view"
)

// CoreScopes lists all permissions related to access administration.
func CoreScopes() []string {
	return []string{
		PermPermissionsView,
		PermPermissionsEdit,
		PermRolesView,
		PermRolesEdit,
		PermUsersView,
		PermUsersEdit,
		PermPagesView,
		PermPagesEdit,
		PermAccessView,
	}
}
