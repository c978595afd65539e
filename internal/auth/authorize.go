package auth

import (
	"context"
	"sort"
)

// Principal represents an identity with resolved roles and permissions.
type Principal struct {
	Identity    *Identity
	Roles       []string
	Permissions map[string]struct{}
}

// HasPermission reports whether the principal holds the permission key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// PermissionKeys returns the principal's permissions sorted, for embedding
// into token claims.
func (p Principal) PermissionKeys() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Engine answers allow/deny questions. It never mutates role or permission
// data; absence of an explicit grant is always a deny.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Principal loads an identity with its current role set and the union of
// permissions across those roles. The lookup is fresh on every call so a
// role removal takes effect on the next check.
func (e *Engine) Principal(ctx context.Context, identityID string) (Principal, error) {
	identity, err := e.store.Identities(ctx).Find(ctx, identityID)
	if err != nil {
		return Principal{}, err
	}
	assignments, err := e.store.Roles(ctx).Assignments(ctx, identityID)
	if err != nil {
		return Principal{}, err
	}
	perms := make(map[string]struct{})
	roles := make([]string, 0, len(assignments))
	for _, a := range assignments {
		role, err := e.store.Roles(ctx).Find(ctx, a.RoleID)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return Principal{}, err
		}
		roles = append(roles, role.Name)
		list, err := e.store.Permissions(ctx).PermissionsForRole(ctx, a.RoleID)
		if err != nil {
			return Principal{}, err
		}
		for _, p := range list {
			perms[p.Key] = struct{}{}
		}
	}
	return Principal{Identity: identity, Roles: roles, Permissions: perms}, nil
}

// Check allows iff the identity's current permission union contains the
// required permission. Any lookup failure is a deny, never an allow.
func (e *Engine) Check(ctx context.Context, identityID, permission string) error {
	principal, err := e.Principal(ctx, identityID)
	if err != nil {
		return ErrPermissionDenied
	}
	if !principal.HasPermission(permission) {
		return ErrPermissionDenied
	}
	return nil
}

// CheckClaims is the stateless variant for calls where signed token claims
// are the only available context. The permission list was computed and
// embedded at issuance time.
func CheckClaims(permissions []string, required string) error {
	for _, p := range permissions {
		if p == required {
			return nil
		}
	}
	return ErrPermissionDenied
}
