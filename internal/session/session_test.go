package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *MemStore, *fakeClock) {
	t.Helper()
	store := NewMemStore()
	t.Cleanup(store.Close)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(store, WithIdleTimeout(10*time.Minute), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, store, clock
}

func TestCreateGeneratesUnguessableIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("two sessions share an id")
	}
	// 32 random bytes encode to 43 base64url characters.
	if len(a.ID) != 43 {
		t.Fatalf("unexpected id length %d", len(a.ID))
	}
}

func TestValidateSlidesExpiry(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Advance(9 * time.Minute)
	refreshed, err := m.Validate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !refreshed.ExpiresAt.Equal(clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("expiry not slid forward: %v", refreshed.ExpiresAt)
	}

	// Another 9 minutes is still within the slid window.
	clock.Advance(9 * time.Minute)
	if _, err := m.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("Validate after slide: %v", err)
	}
}

func TestValidateExpiredSessionIsTerminal(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(11 * time.Minute)
	if _, err := m.Validate(ctx, sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// Terminal: time moving backwards cannot resurrect it either way, and a
	// repeated validation still fails.
	if _, err := m.Validate(ctx, sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired on second validation, got %v", err)
	}
}

func TestRevokeIsTerminalAndIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Validate(ctx, sess.ID); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if err := m.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("second Revoke not idempotent: %v", err)
	}
	if err := m.Revoke(ctx, "unknown"); err != nil {
		t.Fatalf("Revoke of unknown session: %v", err)
	}
}

func TestRevokeLeavesSiblingSessionsAlone(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	tab1, err := m.Create(ctx, "id-1", map[string]string{"device": "laptop"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tab2, err := m.Create(ctx, "id-1", map[string]string{"device": "phone"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Revoke(ctx, tab1.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Validate(ctx, tab2.ID); err != nil {
		t.Fatalf("sibling session was affected: %v", err)
	}
}

func TestValidateUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Validate(context.Background(), "never-issued"); !errors.Is(err, ErrNoSuchSession) {
		t.Fatalf("expected ErrNoSuchSession, got %v", err)
	}
}

// ttlStore refuses to save an already-expired session, like the Redis
// store does.
type ttlStore struct {
	Store
	clock *fakeClock
}

func (s *ttlStore) Save(ctx context.Context, sess Session) error {
	if !sess.ExpiresAt.After(s.clock.Now()) {
		return errors.New("session is expired")
	}
	return s.Store.Save(ctx, sess)
}

func TestRevokeExpiredSessionIsNoop(t *testing.T) {
	mem := NewMemStore()
	t.Cleanup(mem.Close)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &ttlStore{Store: mem, clock: clock}
	m, err := NewManager(store, WithIdleTimeout(10*time.Minute), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	sess, err := m.Create(ctx, "id-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(11 * time.Minute)

	if err := m.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke of expired session: %v", err)
	}
	if _, err := m.Validate(ctx, sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
