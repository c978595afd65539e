package session

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps sessions in process memory. A background reaper removes
// records that are long past expiry; recently expired records are kept so
// Validate can still distinguish expired from unknown.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session

	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemStore constructs a MemStore and starts its reaper.
func NewMemStore() *MemStore {
	s := &MemStore{
		sessions:  make(map[string]Session),
		retention: time.Hour,
		stop:      make(chan struct{}),
	}
	go s.reap()
	return s
}

func (s *MemStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNoSuchSession
	}
	return sess, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close stops the reaper goroutine.
func (s *MemStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemStore) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.retention)
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.ExpiresAt.Before(cutoff) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
