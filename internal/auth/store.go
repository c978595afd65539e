package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Credentials(ctx context.Context) CredentialRecordStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Audit(ctx context.Context) AuditStore
}

// IdentityStore manages identities.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByName(ctx context.Context, name string) (*Identity, error)
}

// CredentialRecordStore manages credential records. Put supersedes the
// currently active record for the identity instead of deleting it.
type CredentialRecordStore interface {
	Active(ctx context.Context, identityID string) (*CredentialRecord, error)
	Put(ctx context.Context, rec *CredentialRecord) error
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Assign(ctx context.Context, assignment Assignment) error
	Unassign(ctx context.Context, identityID, roleID string) error
	Assignments(ctx context.Context, identityID string) ([]Assignment, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	SetForRole(ctx context.Context, roleID string, keys []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// AuditStore appends immutable entries. ListRecent returns up to limit
// entries, newest first.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error)
}
