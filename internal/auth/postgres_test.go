package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGIdentitiesFindByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select id, name, status, created_at, updated_at from identities where name=").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}).
			AddRow("id-1", "alice", "active", now, now))

	store := NewPGStore(db)
	identity, err := store.Identities(context.Background()).FindByName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if identity.ID != "id-1" || identity.Status != "active" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGIdentitiesFindByNameMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, name, status, created_at, updated_at from identities where name=").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	store := NewPGStore(db)
	if _, err := store.Identities(context.Background()).FindByName(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCredentialsPutSupersedesInOneTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("select id from credential_records where identity_id=.* for update").
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update credential_records set superseded_at=now").
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into credential_records").
		WithArgs(sqlmock.AnyArg(), "id-1", "$argon2id$...", TagArgon2id).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	err = store.Credentials(context.Background()).Put(context.Background(), &CredentialRecord{
		IdentityID: "id-1",
		Hash:       "$argon2id$...",
		Algorithm:  TagArgon2id,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGPermissionsForRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select p.id, p.key, p.description, p.created_at from permissions p").
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "description", "created_at"}).
			AddRow("p1", PermissionReadAudit, "", now).
			AddRow("p2", PermissionManageRoles, "", now))

	store := NewPGStore(db)
	perms, err := store.Permissions(context.Background()).PermissionsForRole(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(perms) != 2 || perms[0].Key != PermissionReadAudit {
		t.Fatalf("unexpected permissions: %+v", perms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
