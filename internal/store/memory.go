package store

import (
	"context"
	"sync"

	"github.com/tradesync/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. It is the default when
// no DATABASE_URL is configured, and the backing store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*model.Order
	byUser   map[string][]string // userID → order IDs in insertion order
	messages map[string][]model.ChatMessage
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*model.Order),
		byUser:   make(map[string][]string),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *o
	s.orders[o.ID] = &cp
	s.byUser[o.UserID] = append(s.byUser[o.UserID], o.ID)
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	orders := make([]model.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // newest first
		if o, ok := s.orders[ids[i]]; ok {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.RoomID] = append(s.messages[m.RoomID], *m)
	return nil
}

func (s *MemoryStore) ListMessagesByRoom(_ context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
