package auth

import (
	"context"
	"fmt"
)

// AdminRoleName is the role seeded with every builtin permission.
const AdminRoleName = "admin"

// Seed makes sure the builtin permission catalog and the admin role exist,
// and optionally grants the admin role to the named identity. It is
// idempotent and safe to run on every startup.
func Seed(ctx context.Context, store Store, adminIdentityName string) error {
	if err := store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}

	admin, err := findRoleByName(ctx, store, AdminRoleName)
	if err != nil {
		return err
	}
	if admin == nil {
		admin = &Role{Name: AdminRoleName, Description: "full administrative access"}
		if err := store.Roles(ctx).Create(ctx, admin); err != nil {
			return fmt.Errorf("seed admin role: %w", err)
		}
		keys := make([]string, 0, len(BuiltinPermissions))
		for _, p := range BuiltinPermissions {
			keys = append(keys, p.Key)
		}
		if err := store.Permissions(ctx).SetForRole(ctx, admin.ID, keys); err != nil {
			return fmt.Errorf("seed admin permissions: %w", err)
		}
	}

	if adminIdentityName == "" {
		return nil
	}
	identity, err := store.Identities(ctx).FindByName(ctx, adminIdentityName)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return fmt.Errorf("seed admin assignment: %w", err)
	}
	if err := store.Roles(ctx).Assign(ctx, Assignment{IdentityID: identity.ID, RoleID: admin.ID}); err != nil {
		return fmt.Errorf("seed admin assignment: %w", err)
	}
	return nil
}

func findRoleByName(ctx context.Context, store Store, name string) (*Role, error) {
	roles, err := store.Roles(ctx).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for _, role := range roles {
		if role.Name == name {
			return role, nil
		}
	}
	return nil, nil
}
