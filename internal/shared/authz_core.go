package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermDatasetsView   = "datasets.view"
	PermDatasetsEdit   = "datasets.edit"
	PermDatasetsDelete = "datasets.delete"

	PermDocumentsView   = "documents.view"
	PermDocumentsEdit   = "documents.edit"
	PermDocumentsDelete = "documents.delete"

	PermCreditsView = "credits.view"
	PermCreditsEdit = "credits.edit"

	PermChatUse = "chat.use"
)

// Reserved role names. RoleSuperAdmin is never deletable while assigned and
// bypasses every permission check.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Legacy bootstrap identifiers. A principal whose ASGL ID equals one of these
// receives admin rights before the role system is seeded. Preserved on
// purpose; removing it changes observable behavior.
const (
	BootstrapAdminID      = "admin"
	BootstrapSuperAdminID = "superadmin"
)

// CoreScopes lists all seeded permissions.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermDatasetsView,
		PermDatasetsEdit,
		PermDatasetsDelete,
		PermDocumentsView,
		PermDocumentsEdit,
		PermDocumentsDelete,
		PermCreditsView,
		PermCreditsEdit,
		PermChatUse,
	}
}
