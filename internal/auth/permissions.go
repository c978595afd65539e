package auth

const (
	PermissionManageIdentities  = "iam.identity.manage"
	PermissionManageRoles       = "iam.role.manage"
	PermissionManagePermissions = "iam.permission.manage"
	PermissionReadAudit         = "iam.audit.read"
	PermissionStreamEvents      = "iam.events.stream"
)

var BuiltinPermissions = []Permission{
	{Key: PermissionManageIdentities, Description: "Create identities and assign roles"},
	{Key: PermissionManageRoles, Description: "Create and modify roles"},
	{Key: PermissionManagePermissions, Description: "Attach permissions to roles"},
	{Key: PermissionReadAudit, Description: "Read the audit log"},
	{Key: PermissionStreamEvents, Description: "Subscribe to the security event stream"},
}
