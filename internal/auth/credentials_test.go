package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestCredentialService(t *testing.T, store Store, opts ...CredentialOption) *CredentialService {
	t.Helper()
	// Low-cost parameters keep the test suite fast.
	hasher := &Argon2Hasher{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	registry := NewHasherRegistry(hasher, NewBcryptHasher())
	svc, err := NewCredentialService(store, registry, opts...)
	if err != nil {
		t.Fatalf("NewCredentialService: %v", err)
	}
	return svc
}

func TestRegisterAndVerifyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := newTestCredentialService(t, store)

	identity, err := svc.Register(ctx, "alice", "S3cr3t!")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity.ID == "" || identity.Name != "alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if _, err := svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}

	verified, err := svc.Verify(ctx, "alice", "S3cr3t!")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != identity.ID {
		t.Fatalf("verified wrong identity: %s", verified.ID)
	}

	if _, err := svc.Verify(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("wrong password: expected ErrInvalidCredential, got %v", err)
	}
	// Unknown identity must be indistinguishable from a wrong password.
	if _, err := svc.Verify(ctx, "bob", "anything"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("unknown identity: expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyOutcomesReachAuditSink(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		events []map[string]any
	)
	sink := func(_ context.Context, event string, fields map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		fields["event"] = event
		events = append(events, fields)
		return nil
	}

	svc := newTestCredentialService(t, NewMemStore(), WithAudit(sink))
	if _, err := svc.Register(ctx, "alice", "S3cr3t!"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _ = svc.Verify(ctx, "alice", "S3cr3t!")
	_, _ = svc.Verify(ctx, "alice", "wrong")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0]["event"] != "auth.credential.verified" || events[0]["result"] != "ok" {
		t.Fatalf("unexpected first event: %v", events[0])
	}
	if events[1]["event"] != "auth.credential.rejected" || events[1]["reason"] != "bad_password" {
		t.Fatalf("unexpected second event: %v", events[1])
	}
	for _, evt := range events {
		for _, v := range evt {
			if s, ok := v.(string); ok && (s == "S3cr3t!" || s == "wrong") {
				t.Fatalf("plaintext credential leaked into audit event: %v", evt)
			}
		}
	}
}

func TestChangeCredentialRequiresOldPassword(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := newTestCredentialService(t, store)

	if _, err := svc.Register(ctx, "alice", "old-password"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.ChangeCredential(ctx, "alice", "not-the-old-one", "new-password"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if err := svc.ChangeCredential(ctx, "alice", "old-password", "new-password"); err != nil {
		t.Fatalf("ChangeCredential: %v", err)
	}
	if _, err := svc.Verify(ctx, "alice", "old-password"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatal("old password still verifies after rotation")
	}
	if _, err := svc.Verify(ctx, "alice", "new-password"); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
}

func TestLegacyRecordUpgradesOnVerify(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	svc := newTestCredentialService(t, store)

	identity, err := svc.Register(ctx, "carol", "pw-one")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Rewind the record to the legacy algorithm.
	legacy, err := NewBcryptHasher().Hash("pw-one")
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}
	if err := store.Credentials(ctx).Put(ctx, &CredentialRecord{
		IdentityID: identity.ID,
		Hash:       legacy,
		Algorithm:  TagBcrypt,
	}); err != nil {
		t.Fatalf("Put legacy record: %v", err)
	}

	if _, err := svc.Verify(ctx, "carol", "pw-one"); err != nil {
		t.Fatalf("Verify against legacy record: %v", err)
	}
	rec, err := store.Credentials(ctx).Active(ctx, identity.ID)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if rec.Algorithm != TagArgon2id {
		t.Fatalf("record not rehashed, algorithm still %s", rec.Algorithm)
	}
	if _, err := svc.Verify(ctx, "carol", "pw-one"); err != nil {
		t.Fatalf("Verify after rehash: %v", err)
	}
}

func TestConcurrentRegisterSameNameYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	svc := newTestCredentialService(t, NewMemStore())

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Register(ctx, "dave", "pw"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful registration, got %d", succeeded)
	}
}

// gatedStore pauses the first Active read after the record has been loaded,
// so a verification can be held in flight while other operations run.
type gatedStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Credentials(ctx context.Context) CredentialRecordStore {
	return &gatedCredentials{inner: s.Store.Credentials(ctx), gate: s}
}

type gatedCredentials struct {
	inner CredentialRecordStore
	gate  *gatedStore
}

func (g *gatedCredentials) Active(ctx context.Context, identityID string) (*CredentialRecord, error) {
	rec, err := g.inner.Active(ctx, identityID)
	g.gate.once.Do(func() {
		close(g.gate.entered)
		<-g.gate.release
	})
	return rec, err
}

func (g *gatedCredentials) Put(ctx context.Context, rec *CredentialRecord) error {
	return g.inner.Put(ctx, rec)
}

// A rehash-on-verify that is in flight while a password change completes
// must not write a hash of the old password over the new record.
func TestRehashCannotRevertPasswordChange(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	store := &gatedStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestCredentialService(t, store)

	identity, err := svc.Register(ctx, "erin", "old-pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Rewind to the legacy algorithm so Verify wants a rehash.
	legacy, err := NewBcryptHasher().Hash("old-pw")
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}
	if err := mem.Credentials(ctx).Put(ctx, &CredentialRecord{
		IdentityID: identity.ID,
		Hash:       legacy,
		Algorithm:  TagBcrypt,
	}); err != nil {
		t.Fatalf("Put legacy record: %v", err)
	}

	verifyDone := make(chan error, 1)
	go func() {
		_, err := svc.Verify(ctx, "erin", "old-pw")
		verifyDone <- err
	}()
	<-store.entered // verification has read the legacy record

	changeDone := make(chan error, 1)
	go func() {
		changeDone <- svc.ChangeCredential(ctx, "erin", "old-pw", "new-pw")
	}()
	// Let the password change reach the identity lock before the held
	// verification resumes.
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	if err := <-verifyDone; err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := <-changeDone; err != nil {
		t.Fatalf("ChangeCredential: %v", err)
	}

	if _, err := svc.Verify(ctx, "erin", "new-pw"); err != nil {
		t.Fatalf("new password rejected after concurrent rehash: %v", err)
	}
	if _, err := svc.Verify(ctx, "erin", "old-pw"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("old password still accepted, got %v", err)
	}
}
