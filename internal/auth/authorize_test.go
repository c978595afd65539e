package auth

import (
	"context"
	"errors"
	"testing"
)

func seedRBAC(t *testing.T, store *MemStore) (identityID, roleID string) {
	t.Helper()
	ctx := context.Background()

	identity := &Identity{Name: "alice", Status: IdentityStatusActive}
	if err := store.Identities(ctx).Create(ctx, identity); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if err := store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		t.Fatalf("ensure permissions: %v", err)
	}
	role := &Role{Name: "operator"}
	if err := store.Roles(ctx).Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := store.Permissions(ctx).SetForRole(ctx, role.ID, []string{PermissionReadAudit}); err != nil {
		t.Fatalf("set role permissions: %v", err)
	}
	return identity.ID, role.ID
}

func TestCheckDeniesByDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	identityID, _ := seedRBAC(t, store)
	engine := NewEngine(store)

	// No roles assigned yet: everything is a deny.
	if err := engine.Check(ctx, identityID, PermissionReadAudit); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	// Unknown identity is a deny as well, never an allow.
	if err := engine.Check(ctx, "nope", PermissionReadAudit); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCheckAllowsThroughRoleUnion(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	identityID, roleID := seedRBAC(t, store)
	engine := NewEngine(store)

	second := &Role{Name: "role-admin"}
	if err := store.Roles(ctx).Create(ctx, second); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := store.Permissions(ctx).SetForRole(ctx, second.ID, []string{PermissionManageRoles}); err != nil {
		t.Fatalf("set role permissions: %v", err)
	}
	for _, rid := range []string{roleID, second.ID} {
		if err := store.Roles(ctx).Assign(ctx, Assignment{IdentityID: identityID, RoleID: rid}); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}

	// Union across both roles.
	if err := engine.Check(ctx, identityID, PermissionReadAudit); err != nil {
		t.Fatalf("Check(audit.read): %v", err)
	}
	if err := engine.Check(ctx, identityID, PermissionManageRoles); err != nil {
		t.Fatalf("Check(role.manage): %v", err)
	}
	// Not granted by either role.
	if err := engine.Check(ctx, identityID, PermissionManagePermissions); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRoleRemovalTakesEffectOnNextCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	identityID, roleID := seedRBAC(t, store)
	engine := NewEngine(store)

	if err := store.Roles(ctx).Assign(ctx, Assignment{IdentityID: identityID, RoleID: roleID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := engine.Check(ctx, identityID, PermissionReadAudit); err != nil {
		t.Fatalf("Check before removal: %v", err)
	}
	if err := store.Roles(ctx).Unassign(ctx, identityID, roleID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if err := engine.Check(ctx, identityID, PermissionReadAudit); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("removal not effective, got %v", err)
	}
}

func TestCheckClaims(t *testing.T) {
	perms := []string{PermissionReadAudit, PermissionStreamEvents}
	if err := CheckClaims(perms, PermissionReadAudit); err != nil {
		t.Fatalf("CheckClaims: %v", err)
	}
	if err := CheckClaims(perms, PermissionManageRoles); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := CheckClaims(nil, PermissionReadAudit); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("empty claims: expected ErrPermissionDenied, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	principal := Principal{
		Identity:    &Identity{ID: "u1", Name: "alice"},
		Permissions: map[string]struct{}{PermissionReadAudit: {}},
	}
	ctx = ContextWithPrincipal(ctx, principal)
	ctx = ContextWithToken(ctx, "raw-token")
	ctx = ContextWithRequestID(ctx, "req-9")

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.Identity.ID != "u1" {
		t.Fatalf("principal not recovered: %+v ok=%v", got, ok)
	}
	token, ok := TokenFromContext(ctx)
	if !ok || token != "raw-token" {
		t.Fatalf("token not recovered: %q ok=%v", token, ok)
	}
	if rid := RequestIDFromContext(ctx); rid != "req-9" {
		t.Fatalf("unexpected request id: %q", rid)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("principal found in empty context")
	}
}
