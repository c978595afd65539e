package token

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ RefreshStore = (*PGRefreshStore)(nil)

// PGRefreshStore persists refresh token records in PostgreSQL.
type PGRefreshStore struct {
	db *sql.DB
}

func NewPGRefreshStore(db *sql.DB) *PGRefreshStore {
	return &PGRefreshStore{db: db}
}

func (s *PGRefreshStore) Create(ctx context.Context, rec *RefreshRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, identity_id, family_id, generation, token_hash,
		   access_token_id, access_expires_at, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.IdentityID, rec.FamilyID, rec.Generation, rec.TokenHash,
		rec.AccessTokenID, rec.AccessExpiresAt, rec.ExpiresAt, rec.CreatedAt,
	)
	return err
}

func (s *PGRefreshStore) Find(ctx context.Context, id string) (*RefreshRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identity_id, family_id, generation, token_hash,
		   access_token_id, access_expires_at, expires_at, created_at, consumed_at, revoked
		 from refresh_tokens where id=$1`, id)
	return scanRefreshRecord(row)
}

// Consume marks the record consumed. The conditional update is the
// concurrency guard: of any number of racing callers exactly one sees a row
// updated, the rest observe an already-consumed record and get
// ErrRefreshReused.
func (s *PGRefreshStore) Consume(ctx context.Context, id string, at time.Time) (*RefreshRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set consumed_at=$2
		 where id=$1 and consumed_at is null and not revoked
		 returning id, identity_id, family_id, generation, token_hash,
		   access_token_id, access_expires_at, expires_at, created_at, consumed_at, revoked`,
		id, at.UTC())
	rec, err := scanRefreshRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, errRefreshNotFound) {
		return nil, err
	}
	// No row updated: distinguish reuse from a missing record.
	prior, ferr := s.Find(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	if prior.ConsumedAt != nil {
		return nil, ErrRefreshReused
	}
	return nil, errRefreshNotFound
}

func (s *PGRefreshStore) RevokeFamily(ctx context.Context, familyID string) ([]*RefreshRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`update refresh_tokens set revoked=true
		 where family_id=$1 and not revoked
		 returning id, identity_id, family_id, generation, token_hash,
		   access_token_id, access_expires_at, expires_at, created_at, consumed_at, revoked`,
		familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revoked []*RefreshRecord
	for rows.Next() {
		var rec RefreshRecord
		var consumed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.FamilyID, &rec.Generation, &rec.TokenHash,
			&rec.AccessTokenID, &rec.AccessExpiresAt, &rec.ExpiresAt, &rec.CreatedAt, &consumed, &rec.Revoked); err != nil {
			return nil, err
		}
		if consumed.Valid {
			t := consumed.Time
			rec.ConsumedAt = &t
		}
		revoked = append(revoked, &rec)
	}
	return revoked, rows.Err()
}

func scanRefreshRecord(row *sql.Row) (*RefreshRecord, error) {
	var rec RefreshRecord
	var consumed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.FamilyID, &rec.Generation, &rec.TokenHash,
		&rec.AccessTokenID, &rec.AccessExpiresAt, &rec.ExpiresAt, &rec.CreatedAt, &consumed, &rec.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errRefreshNotFound
		}
		return nil, err
	}
	if consumed.Valid {
		t := consumed.Time
		rec.ConsumedAt = &t
	}
	return &rec, nil
}
