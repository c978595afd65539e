package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/obs"
)

// AuditFunc receives every credential verification outcome. The plaintext
// credential is never part of the fields.
type AuditFunc func(ctx context.Context, event string, fields map[string]any) error

// CredentialService owns registration, verification and rotation of
// credentials. Operations on the same identity serialize through a keyed
// lock; operations on different identities do not block each other.
type CredentialService struct {
	store   Store
	hashers *HasherRegistry
	audit   AuditFunc
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

// CredentialOption configures CredentialService behavior.
type CredentialOption func(*CredentialService)

// WithAudit installs the audit sink for verification outcomes.
func WithAudit(fn AuditFunc) CredentialOption {
	return func(s *CredentialService) {
		if fn != nil {
			s.audit = fn
		}
	}
}

// WithCredentialClock overrides the time source (useful for tests).
func WithCredentialClock(fn func() time.Time) CredentialOption {
	return func(s *CredentialService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(store Store, hashers *HasherRegistry, opts ...CredentialOption) (*CredentialService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hashers == nil {
		return nil, errors.New("auth: hasher registry is required")
	}
	s := &CredentialService{
		store:   store,
		hashers: hashers,
		audit:   func(context.Context, string, map[string]any) error { return nil },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks = make(map[string]*identityLock)
	return s, nil
}

// Register creates a new identity with its first credential record.
func (s *CredentialService) Register(ctx context.Context, name, password string) (*Identity, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: identity name is required", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	unlock := s.lockIdentity(name)
	defer unlock()

	if _, err := s.store.Identities(ctx).FindByName(ctx, name); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hashers.Default().Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	identity := &Identity{ID: ids.New(), Name: name, Status: IdentityStatusActive}
	if err := s.store.Identities(ctx).Create(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicateIdentity
		}
		return nil, err
	}
	rec := &CredentialRecord{
		IdentityID: identity.ID,
		Hash:       hash,
		Algorithm:  s.hashers.Default().Tag(),
	}
	if err := s.store.Credentials(ctx).Put(ctx, rec); err != nil {
		return nil, err
	}
	return identity, nil
}

// Verify checks a claimed identity against its active credential record.
// Unknown identity and wrong password both surface as ErrInvalidCredential;
// the distinction exists only in the audit trail. Store failures (including
// timeouts) fail closed. Verify holds the identity lock so the
// rehash-on-verify write cannot supersede a credential written by a
// concurrent ChangeCredential.
func (s *CredentialService) Verify(ctx context.Context, name, password string) (*Identity, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || password == "" {
		s.report(ctx, name, "empty_input")
		return nil, ErrInvalidCredential
	}

	unlock := s.lockIdentity(name)
	defer unlock()

	return s.verify(ctx, name, password)
}

// verify is Verify without the lock, for callers that already hold the
// identity lock. name must be normalized and non-empty.
func (s *CredentialService) verify(ctx context.Context, name, password string) (*Identity, error) {
	identity, err := s.store.Identities(ctx).FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.report(ctx, name, "unknown_identity")
		} else {
			s.report(ctx, name, "store_error")
		}
		return nil, ErrInvalidCredential
	}
	if identity.Status != IdentityStatusActive {
		s.report(ctx, name, "disabled")
		return nil, ErrInvalidCredential
	}
	rec, err := s.store.Credentials(ctx).Active(ctx, identity.ID)
	if err != nil {
		s.report(ctx, name, "store_error")
		return nil, ErrInvalidCredential
	}
	if err := s.hashers.Verify(rec.Algorithm, rec.Hash, password); err != nil {
		s.report(ctx, name, "bad_password")
		return nil, ErrInvalidCredential
	}

	if s.hashers.NeedsRehash(rec.Algorithm) {
		s.rehash(ctx, identity.ID, password)
	}

	obs.ObserveLogin("ok")
	_ = s.audit(ctx, "auth.credential.verified", map[string]any{
		"identity": name,
		"result":   "ok",
		"at":       s.now().UTC().Format(time.RFC3339),
	})
	return identity, nil
}

// ChangeCredential re-verifies the old credential before writing a new
// record. The previous record is superseded, never deleted.
func (s *CredentialService) ChangeCredential(ctx context.Context, name, oldPassword, newPassword string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	if name == "" || oldPassword == "" {
		s.report(ctx, name, "empty_input")
		return ErrInvalidCredential
	}

	unlock := s.lockIdentity(name)
	defer unlock()

	identity, err := s.verify(ctx, name, oldPassword)
	if err != nil {
		return err
	}
	hash, err := s.hashers.Default().Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	rec := &CredentialRecord{
		IdentityID: identity.ID,
		Hash:       hash,
		Algorithm:  s.hashers.Default().Tag(),
	}
	if err := s.store.Credentials(ctx).Put(ctx, rec); err != nil {
		return err
	}
	_ = s.audit(ctx, "auth.credential.rotated", map[string]any{
		"identity": name,
		"at":       s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

// rehash upgrades a legacy record to the default hasher. Best effort: the
// verification already succeeded, a failed upgrade only delays migration.
func (s *CredentialService) rehash(ctx context.Context, identityID, password string) {
	hash, err := s.hashers.Default().Hash(password)
	if err != nil {
		return
	}
	_ = s.store.Credentials(ctx).Put(ctx, &CredentialRecord{
		IdentityID: identityID,
		Hash:       hash,
		Algorithm:  s.hashers.Default().Tag(),
	})
}

func (s *CredentialService) report(ctx context.Context, name, reason string) {
	obs.ObserveLogin("denied")
	_ = s.audit(ctx, "auth.credential.rejected", map[string]any{
		"identity": name,
		"result":   "denied",
		"reason":   reason,
		"at":       s.now().UTC().Format(time.RFC3339),
	})
}

// lockIdentity serializes operations for one identity name. The lock entry
// is reference counted so the map does not grow with every name ever seen.
func (s *CredentialService) lockIdentity(name string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &identityLock{}
		s.locks[name] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.locksMu.Unlock()
	}
}
