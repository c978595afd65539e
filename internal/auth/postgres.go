package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"gatekit.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore { return &pgIdentities{db: s.db} }
func (s *PGStore) Credentials(context.Context) CredentialRecordStore {
	return &pgCredentials{db: s.db}
}
func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoles{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &pgPermissions{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore            { return &pgAudit{db: s.db} }

// Identity store -----------------------------------------------------------

type pgIdentities struct{ db *sql.DB }

func (s *pgIdentities) Create(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, name, status) values($1,$2,$3)`,
		identity.ID, identity.Name, identity.Status,
	)
	return err
}

func (s *pgIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, status, created_at, updated_at from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *pgIdentities) FindByName(ctx context.Context, name string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, status, created_at, updated_at from identities where name=$1`, name)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var identity Identity
	if err := row.Scan(&identity.ID, &identity.Name, &identity.Status, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &identity, nil
}

// Credential store ---------------------------------------------------------

type pgCredentials struct{ db *sql.DB }

func (s *pgCredentials) Active(ctx context.Context, identityID string) (*CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identity_id, hash, algorithm, created_at, updated_at
		 from credential_records where identity_id=$1 and superseded_at is null`, identityID)
	var rec CredentialRecord
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.Hash, &rec.Algorithm, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Put supersedes the active record and inserts the new one in a single
// transaction. The row lock serializes concurrent rotations per identity.
func (s *pgCredentials) Put(ctx context.Context, rec *CredentialRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`select id from credential_records where identity_id=$1 and superseded_at is null for update`,
		rec.IdentityID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update credential_records set superseded_at=now() where identity_id=$1 and superseded_at is null`,
		rec.IdentityID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into credential_records(id, identity_id, hash, algorithm) values($1,$2,$3,$4)`,
		rec.ID, rec.IdentityID, rec.Hash, rec.Algorithm,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Role store ---------------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func (s *pgRoles) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, name, description) values($1,$2,$3)`,
		role.ID, role.Name, role.Description,
	)
	return err
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where id=$1`, id)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at, updated_at from roles order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (s *pgRoles) Assign(ctx context.Context, assignment Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_assignments(identity_id, role_id) values($1,$2) on conflict do nothing`,
		assignment.IdentityID, assignment.RoleID,
	)
	return err
}

func (s *pgRoles) Unassign(ctx context.Context, identityID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from role_assignments where identity_id=$1 and role_id=$2`,
		identityID, roleID,
	)
	return err
}

func (s *pgRoles) Assignments(ctx context.Context, identityID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select identity_id, role_id, created_at from role_assignments where identity_id=$1`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.IdentityID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Permission store ---------------------------------------------------------

type pgPermissions struct{ db *sql.DB }

func (s *pgPermissions) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, description) values($1,$2,$3) on conflict (key) do nothing`,
			p.ID, p.Key, p.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pgPermissions) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select id, key, description, created_at from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *pgPermissions) SetForRole(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		_, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id)
			 select $1, id from permissions where key=$2`, roleID, key,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgPermissions) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.key, p.description, p.created_at from permissions p
		 join role_permissions rp on rp.permission_id=p.id where rp.role_id=$1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Audit store --------------------------------------------------------------

type pgAudit struct{ db *sql.DB }

func (s *pgAudit) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_id, action, resource, resource_id, metadata, request_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.OccurredAt, entry.ActorID, entry.Action,
		entry.Resource, entry.ResourceID, meta, entry.RequestID,
	)
	return err
}

func (s *pgAudit) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, occurred_at, actor_id, action, resource, resource_id, metadata, request_id
		 from audit_log order by occurred_at desc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.OccurredAt, &entry.ActorID, &entry.Action,
			&entry.Resource, &entry.ResourceID, &meta, &entry.RequestID); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &entry.Metadata)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
