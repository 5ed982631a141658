package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"lexbrief/internal/models"
)

// MemoryStore keeps sessions in process memory with TTL expiry.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore returns a store whose entries expire after ttl. Expired entries
// are swept every cleanupInterval and handed to onEvict.
func NewMemoryStore(ttl, cleanupInterval time.Duration, onEvict EvictFunc) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	c := cache.New(ttl, cleanupInterval)
	if onEvict != nil {
		c.OnEvicted(func(_ string, v interface{}) {
			if s, ok := v.(*models.DocumentSession); ok {
				onEvict(s.Clone())
			}
		})
	}
	return &MemoryStore{cache: c, ttl: ttl}
}

func (m *MemoryStore) Create(_ context.Context, s *models.DocumentSession) error {
	if err := prepare(s, m.ttl); err != nil {
		return err
	}
	stored := s.Clone()
	exp := cache.DefaultExpiration
	if !stored.ExpiresAt.IsZero() {
		exp = time.Until(stored.ExpiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Add(stored.ID, stored, exp)
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.DocumentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*models.DocumentSession).Clone(), nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, id string, turn models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	s := v.(*models.DocumentSession)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.Transcript = append(s.Transcript, turn)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache.Get(id); !ok {
		return ErrNotFound
	}
	m.cache.Delete(id)
	return nil
}

// PurgeExpired sweeps expired entries now instead of waiting for the janitor.
// Evicted sessions go to the eviction hook, so nothing is returned.
func (m *MemoryStore) PurgeExpired(context.Context, time.Time) ([]*models.DocumentSession, error) {
	m.cache.DeleteExpired()
	return nil, nil
}

// Len reports the number of entries, expired ones included until swept.
func (m *MemoryStore) Len() int { return m.cache.ItemCount() }

func (m *MemoryStore) Close() error { return nil }
