package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/obs"
)

// RefreshRecord is the server-side state of one refresh token. The raw
// secret is never stored; only its hash.
type RefreshRecord struct {
	ID              string
	IdentityID      string
	FamilyID        string
	Generation      int
	TokenHash       string
	AccessTokenID   string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
	ConsumedAt      *time.Time
	Revoked         bool
}

// RefreshStore persists refresh token records. Consume must be atomic: of
// any number of concurrent calls for the same id, exactly one returns the
// record with a nil error and the rest get ErrRefreshReused.
type RefreshStore interface {
	Create(ctx context.Context, rec *RefreshRecord) error
	Find(ctx context.Context, id string) (*RefreshRecord, error)
	Consume(ctx context.Context, id string, at time.Time) (*RefreshRecord, error)
	// RevokeFamily marks every record in the family revoked and returns
	// them so their paired access tokens can be denylisted.
	RevokeFamily(ctx context.Context, familyID string) ([]*RefreshRecord, error)
}

// IssuePair mints an access token plus a fresh single-use refresh token
// starting a new token family.
func (s *Service) IssuePair(ctx context.Context, identityID string, roles, permissions []string) (AccessToken, RefreshToken, error) {
	return s.mintPair(ctx, identityID, roles, permissions, "", 1)
}

// Refresh exchanges a valid refresh token for a new token pair, retiring the
// presented token. Presenting an already-consumed token is treated as
// compromise: the entire family is revoked, including access tokens issued
// through it, and ErrRefreshReused is returned.
func (s *Service) Refresh(ctx context.Context, raw string) (AccessToken, RefreshToken, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}

	rec, err := s.refresh.Find(ctx, id)
	if err != nil {
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}
	if !hashMatches(rec.TokenHash, secret) {
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}
	if rec.Revoked {
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}
	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}

	consumed, err := s.refresh.Consume(ctx, id, now)
	if err != nil {
		if err == ErrRefreshReused {
			s.revokeFamily(ctx, rec.FamilyID)
			obs.ObserveRefreshReuse()
			return AccessToken{}, RefreshToken{}, ErrRefreshReused
		}
		return AccessToken{}, RefreshToken{}, ErrInvalidRefresh
	}

	roles, permissions, err := s.resolve(ctx, consumed.IdentityID)
	if err != nil {
		return AccessToken{}, RefreshToken{}, fmt.Errorf("resolve principal: %w", err)
	}
	return s.mintPair(ctx, consumed.IdentityID, roles, permissions, consumed.FamilyID, consumed.Generation+1)
}

// RevokeRefresh retires a refresh token without rotation (logout). Unknown
// or already-consumed tokens are a no-op.
func (s *Service) RevokeRefresh(ctx context.Context, raw string) error {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil
	}
	rec, err := s.refresh.Find(ctx, id)
	if err != nil || !hashMatches(rec.TokenHash, secret) {
		return nil
	}
	_, err = s.refresh.RevokeFamily(ctx, rec.FamilyID)
	return err
}

func (s *Service) mintPair(ctx context.Context, identityID string, roles, permissions []string, familyID string, generation int) (AccessToken, RefreshToken, error) {
	access, err := s.Issue(ctx, identityID, roles, permissions, s.accessTTL)
	if err != nil {
		return AccessToken{}, RefreshToken{}, err
	}

	secret, err := newRefreshSecret()
	if err != nil {
		return AccessToken{}, RefreshToken{}, err
	}
	now := s.now().UTC()
	rec := &RefreshRecord{
		ID:              ids.New(),
		IdentityID:      identityID,
		FamilyID:        familyID,
		Generation:      generation,
		TokenHash:       hashRefreshSecret(secret),
		AccessTokenID:   access.ID,
		AccessExpiresAt: access.ExpiresAt,
		ExpiresAt:       now.Add(s.refreshTTL),
		CreatedAt:       now,
	}
	if rec.FamilyID == "" {
		rec.FamilyID = rec.ID
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return AccessToken{}, RefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	refresh := RefreshToken{
		Raw:       rec.ID + "." + secret,
		ID:        rec.ID,
		ExpiresAt: rec.ExpiresAt,
	}
	return access, refresh, nil
}

func (s *Service) revokeFamily(ctx context.Context, familyID string) {
	revoked, err := s.refresh.RevokeFamily(ctx, familyID)
	if err != nil {
		return
	}
	now := s.now().UTC()
	for _, rec := range revoked {
		if rec.AccessTokenID == "" || now.After(rec.AccessExpiresAt) {
			continue
		}
		_ = s.denylist.Add(ctx, rec.AccessTokenID, rec.AccessExpiresAt)
	}
}

// splitRefreshToken parses the "id.secret" wire form.
func splitRefreshToken(raw string) (id, secret string, err error) {
	raw = strings.TrimSpace(raw)
	i := strings.IndexByte(raw, '.')
	if i <= 0 || i == len(raw)-1 {
		return "", "", ErrInvalidRefresh
	}
	return raw[:i], raw[i+1:], nil
}

func newRefreshSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashMatches(storedHash, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashRefreshSecret(secret))) == 1
}
