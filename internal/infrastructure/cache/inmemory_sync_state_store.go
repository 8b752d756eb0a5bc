package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
)

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

// InMemorySyncStateStore implements integration.SyncStateStore in process memory.
// Suitable for single-instance deployments and testing; state is lost on restart.
type InMemorySyncStateStore struct {
	mu       sync.Mutex
	lastSync map[string]time.Time
	locks    map[string]lockEntry
	now      func() time.Time
}

// NewInMemorySyncStateStore creates an empty in-memory store
func NewInMemorySyncStateStore() *InMemorySyncStateStore {
	return &InMemorySyncStateStore{
		lastSync: make(map[string]time.Time),
		locks:    make(map[string]lockEntry),
		now:      time.Now,
	}
}

// LastSync returns the stored delta date for channelKey
func (s *InMemorySyncStateStore) LastSync(_ context.Context, channelKey string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lastSync[channelKey]
	return t, ok, nil
}

// SetLastSync stores the delta date for channelKey
func (s *InMemorySyncStateStore) SetLastSync(_ context.Context, channelKey string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSync[channelKey] = t.UTC()
	return nil
}

// AcquireLock takes the channel lock unless another owner holds an unexpired one
func (s *InMemorySyncStateStore) AcquireLock(_ context.Context, channelKey, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, held := s.locks[channelKey]; held && now.Before(l.expiresAt) {
		return false, nil
	}
	s.locks[channelKey] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock drops the channel lock if owner still holds it
func (s *InMemorySyncStateStore) ReleaseLock(_ context.Context, channelKey, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, held := s.locks[channelKey]; held && l.owner == owner {
		delete(s.locks, channelKey)
	}
	return nil
}

var _ integration.SyncStateStore = (*InMemorySyncStateStore)(nil)
