package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradesync/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.InsertOrder(ctx, o); err != nil {
		return err
	}
	s.cacheOrder(ctx, o)
	s.rdb.Del(ctx, userOrdersKey(o.UserID))
	return nil
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpdateOrder(ctx, o); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, orderKey(o.ID), userOrdersKey(o.UserID))
	return nil
}

func (s *CachedStore) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	if err := s.primary.InsertMessage(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, roomMessagesKey(m.RoomID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	data, err := s.rdb.Get(ctx, userOrdersKey(userID)).Bytes()
	if err == nil {
		var orders []model.Order
		if json.Unmarshal(data, &orders) == nil {
			return orders, nil
		}
	}

	orders, err := s.primary.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(orders); err == nil {
		s.rdb.Set(ctx, userOrdersKey(userID), data, s.ttl)
	}
	return orders, nil
}

func (s *CachedStore) ListMessagesByRoom(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	// Only the unbounded read is cached; limited reads slice the cached list.
	data, err := s.rdb.Get(ctx, roomMessagesKey(roomID)).Bytes()
	if err == nil {
		var msgs []model.ChatMessage
		if json.Unmarshal(data, &msgs) == nil {
			return tail(msgs, limit), nil
		}
	}

	msgs, err := s.primary.ListMessagesByRoom(ctx, roomID, 0)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(msgs); err == nil {
		s.rdb.Set(ctx, roomMessagesKey(roomID), data, s.ttl)
	}
	return tail(msgs, limit), nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheOrder(ctx context.Context, o *model.Order) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderKey(o.ID), data, s.ttl)
	}
}

func tail(msgs []model.ChatMessage, limit int) []model.ChatMessage {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

func orderKey(id string) string         { return fmt.Sprintf("order:%s", id) }
func userOrdersKey(uid string) string   { return fmt.Sprintf("orders:%s", uid) }
func roomMessagesKey(rid string) string { return fmt.Sprintf("roommsgs:%s", rid) }
