// Package store defines the archive interface for orders and chat messages.
// Implementations include PostgreSQL (durable archive), Redis (read-through
// cache), and in-memory (default, and for testing).
package store

import (
	"context"
	"errors"

	"github.com/tradesync/market-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store archives order records and room messages. The engine and room
// service own the live state; the store is the queryable record of it.
type Store interface {
	// InsertOrder persists a newly submitted order record.
	InsertOrder(ctx context.Context, o *model.Order) error

	// UpdateOrder replaces the stored record after a status transition.
	UpdateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByUser returns the user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// InsertMessage appends a chat message to a room's archive.
	InsertMessage(ctx context.Context, m *model.ChatMessage) error

	// ListMessagesByRoom returns the last limit messages in arrival order.
	// limit <= 0 means no limit.
	ListMessagesByRoom(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error)
}
