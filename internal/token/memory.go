package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errRefreshNotFound = errors.New("token: refresh record not found")

// MemRefreshStore keeps refresh records in process memory. Suitable for
// tests and single-instance deployments.
type MemRefreshStore struct {
	mu      sync.Mutex
	records map[string]*RefreshRecord
}

func NewMemRefreshStore() *MemRefreshStore {
	return &MemRefreshStore{records: make(map[string]*RefreshRecord)}
}

func (m *MemRefreshStore) Create(_ context.Context, rec *RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return errors.New("token: duplicate refresh record id")
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemRefreshStore) Find(_ context.Context, id string) (*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errRefreshNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemRefreshStore) Consume(_ context.Context, id string, at time.Time) (*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errRefreshNotFound
	}
	if rec.ConsumedAt != nil {
		return nil, ErrRefreshReused
	}
	t := at.UTC()
	rec.ConsumedAt = &t
	cp := *rec
	return &cp, nil
}

func (m *MemRefreshStore) RevokeFamily(_ context.Context, familyID string) ([]*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked []*RefreshRecord
	for _, rec := range m.records {
		if rec.FamilyID != familyID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		cp := *rec
		revoked = append(revoked, &cp)
	}
	return revoked, nil
}
