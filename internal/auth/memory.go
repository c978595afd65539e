package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatekit.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store in process memory. It backs tests and
// single-node deployments that run without PostgreSQL.
type MemStore struct {
	mu          sync.RWMutex
	identities  map[string]*Identity // by id
	byName      map[string]string    // name -> id
	credentials map[string][]*CredentialRecord
	roles       map[string]*Role
	assignments map[string]map[string]Assignment // identityID -> roleID -> assignment
	permissions map[string]*Permission           // by key
	rolePerms   map[string]map[string]struct{}   // roleID -> permission keys
	audit       []*AuditEntry
	now         func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		identities:  make(map[string]*Identity),
		byName:      make(map[string]string),
		credentials: make(map[string][]*CredentialRecord),
		roles:       make(map[string]*Role),
		assignments: make(map[string]map[string]Assignment),
		permissions: make(map[string]*Permission),
		rolePerms:   make(map[string]map[string]struct{}),
		now:         time.Now,
	}
}

func (m *MemStore) Identities(context.Context) IdentityStore         { return (*memIdentities)(m) }
func (m *MemStore) Credentials(context.Context) CredentialRecordStore { return (*memCredentials)(m) }
func (m *MemStore) Roles(context.Context) RoleStore                  { return (*memRoles)(m) }
func (m *MemStore) Permissions(context.Context) PermissionStore      { return (*memPermissions)(m) }
func (m *MemStore) Audit(context.Context) AuditStore                 { return (*memAudit)(m) }

// Identity store -----------------------------------------------------------

type memIdentities MemStore

func (m *memIdentities) Create(_ context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[identity.Name]; ok {
		return ErrConflict
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	now := m.now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	cp := *identity
	m.identities[identity.ID] = &cp
	m.byName[identity.Name] = identity.ID
	return nil
}

func (m *memIdentities) Find(_ context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (m *memIdentities) FindByName(_ context.Context, name string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.identities[id]
	return &cp, nil
}

// Credential store ---------------------------------------------------------

type memCredentials MemStore

func (m *memCredentials) Active(_ context.Context, identityID string) (*CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.credentials[identityID] {
		if rec.SupersededAt == nil {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCredentials) Put(_ context.Context, rec *CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for _, prev := range m.credentials[rec.IdentityID] {
		if prev.SupersededAt == nil {
			ts := now
			prev.SupersededAt = &ts
		}
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := *rec
	m.credentials[rec.IdentityID] = append(m.credentials[rec.IdentityID], &cp)
	return nil
}

// Role store ---------------------------------------------------------------

type memRoles MemStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := m.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRoles) Assign(_ context.Context, assignment Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[assignment.RoleID]; !ok {
		return ErrNotFound
	}
	if m.assignments[assignment.IdentityID] == nil {
		m.assignments[assignment.IdentityID] = make(map[string]Assignment)
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = m.now().UTC()
	}
	m.assignments[assignment.IdentityID][assignment.RoleID] = assignment
	return nil
}

func (m *memRoles) Unassign(_ context.Context, identityID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments[identityID], roleID)
	return nil
}

func (m *memRoles) Assignments(_ context.Context, identityID string) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Assignment
	for _, a := range m.assignments[identityID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

// Permission store ---------------------------------------------------------

type memPermissions MemStore

func (m *memPermissions) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.permissions[p.Key]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		p.CreatedAt = m.now().UTC()
		cp := p
		m.permissions[p.Key] = &cp
	}
	return nil
}

func (m *memPermissions) List(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memPermissions) SetForRole(_ context.Context, roleID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := m.permissions[key]; !ok {
			return ErrNotFound
		}
		set[key] = struct{}{}
	}
	m.rolePerms[roleID] = set
	return nil
}

func (m *memPermissions) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for key := range m.rolePerms[roleID] {
		if p, ok := m.permissions[key]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Audit store --------------------------------------------------------------

type memAudit MemStore

func (m *memAudit) Append(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = m.now().UTC()
	}
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *memAudit) ListRecent(_ context.Context, limit int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]*AuditEntry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.audit[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Entries returns a snapshot of the audit log, oldest first. Test helper.
func (m *MemStore) Entries() []*AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
