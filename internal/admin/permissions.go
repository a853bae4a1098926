package admin

// Permission codes guarding the administration API.
const (
	PermRolesView           = "roles.view"
	PermRolesManage         = "roles.manage"
	PermPermissionsManage   = "permissions.manage"
	PermUsersAssign         = "users.assign"
	PermDelegationsRequest  = "delegations.request"
	PermDelegationsApprove  = "delegations.approve"
	PermTemplatesManage     = "templates.manage"
	PermFieldSecurityManage = "field_security.manage"
	PermAnalyticsView       = "analytics.view"
)

// BuiltinPermission describes a permission seeded at install time.
type BuiltinPermission struct {
	Code        string
	Description string
	Category    string
}

// BuiltinPermissions returns the permission catalogue the console itself relies on.
func BuiltinPermissions() []BuiltinPermission {
	return []BuiltinPermission{
		{Code: PermRolesView, Description: "View roles, permissions and assignments", Category: "administration"},
		{Code: PermRolesManage, Description: "Create, update and delete roles", Category: "administration"},
		{Code: PermPermissionsManage, Description: "Maintain the permission catalogue", Category: "administration"},
		{Code: PermUsersAssign, Description: "Assign roles to users", Category: "administration"},
		{Code: PermDelegationsRequest, Description: "Request a temporary role delegation", Category: "delegation"},
		{Code: PermDelegationsApprove, Description: "Approve, reject and revoke delegations", Category: "delegation"},
		{Code: PermTemplatesManage, Description: "Maintain permission templates", Category: "administration"},
		{Code: PermFieldSecurityManage, Description: "Maintain field-security rule sets", Category: "security"},
		{Code: PermAnalyticsView, Description: "View access analytics and the change stream", Category: "analytics"},
	}
}
