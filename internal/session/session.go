// Package session implements server-side stateful proof of authentication:
// opaque random handles with a sliding idle-timeout, revocable ahead of
// natural expiry.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gatekit.org/internal/obs"
)

var (
	ErrNoSuchSession = errors.New("session: no such session")
	ErrExpired       = errors.New("session: expired")
	ErrRevoked       = errors.New("session: revoked")
)

const defaultIdleTimeout = 30 * time.Minute

// Session is the server-held record behind an opaque handle. Expired and
// Revoked are terminal: a fresh login always creates a new session.
type Session struct {
	ID             string            `json:"id"`
	IdentityID     string            `json:"identity_id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Revoked        bool              `json:"revoked"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Store persists sessions keyed by id. Get returns ErrNoSuchSession for an
// unknown id. Implementations must be safe for concurrent use; operations
// on different session ids must not block each other.
type Store interface {
	Save(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// Manager owns the session lifecycle.
type Manager struct {
	store       Store
	idleTimeout time.Duration
	now         func() time.Time
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithIdleTimeout sets the sliding-window timeout applied to every
// successful validation.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	m := &Manager{
		store:       store,
		idleTimeout: defaultIdleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create opens a new session for the identity. The handle is 32 bytes from
// a cryptographically secure source, so it cannot be guessed or iterated.
func (m *Manager) Create(ctx context.Context, identityID string, metadata map[string]string) (Session, error) {
	if identityID == "" {
		return Session{}, errors.New("session: identity id is required")
	}
	id, err := newSessionID()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	sess := Session{
		ID:             id,
		IdentityID:     identityID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.idleTimeout),
		Metadata:       metadata,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		obs.ObserveSession("create", "error")
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	obs.ObserveSession("create", "ok")
	return sess, nil
}

// Validate resolves a handle to its session and slides the expiry forward.
// Store failures fail closed: the caller sees the session as invalid.
func (m *Manager) Validate(ctx context.Context, id string) (Session, error) {
	if id == "" {
		obs.ObserveSession("validate", "missing")
		return Session{}, ErrNoSuchSession
	}
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		obs.ObserveSession("validate", "missing")
		return Session{}, ErrNoSuchSession
	}
	now := m.now().UTC()
	if sess.Revoked {
		obs.ObserveSession("validate", "revoked")
		return Session{}, ErrRevoked
	}
	if now.After(sess.ExpiresAt) {
		obs.ObserveSession("validate", "expired")
		return Session{}, ErrExpired
	}
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(m.idleTimeout)
	if err := m.store.Save(ctx, sess); err != nil {
		obs.ObserveSession("validate", "error")
		return Session{}, ErrNoSuchSession
	}
	obs.ObserveSession("validate", "ok")
	return sess, nil
}

// Revoke transitions the session to its terminal revoked state. Revoking an
// unknown or already-terminal session is a no-op; revoking one session never
// affects sibling sessions of the same identity.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		obs.ObserveSession("revoke", "missing")
		return nil
	}
	if sess.Revoked {
		obs.ObserveSession("revoke", "noop")
		return nil
	}
	// Expired is terminal too; the Redis store refuses to save a session
	// whose TTL already ran out.
	if m.now().UTC().After(sess.ExpiresAt) {
		obs.ObserveSession("revoke", "noop")
		return nil
	}
	sess.Revoked = true
	if err := m.store.Save(ctx, sess); err != nil {
		obs.ObserveSession("revoke", "error")
		return fmt.Errorf("save session: %w", err)
	}
	obs.ObserveSession("revoke", "ok")
	return nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
