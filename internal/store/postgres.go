package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL. Monetary values are
// stored as NUMERIC for exact decimal precision.
//
// Expected schema:
//
//	CREATE TABLE orders (
//	    id              TEXT PRIMARY KEY,
//	    user_id         TEXT NOT NULL,
//	    symbol          TEXT NOT NULL,
//	    kind            TEXT NOT NULL,
//	    side            TEXT NOT NULL,
//	    quantity        BIGINT NOT NULL,
//	    limit_price     NUMERIC,
//	    status          TEXT NOT NULL,
//	    reason          TEXT NOT NULL DEFAULT '',
//	    execution_price NUMERIC,
//	    accepted_at     TIMESTAMPTZ NOT NULL,
//	    settled_at      TIMESTAMPTZ
//	);
//	CREATE INDEX orders_user_idx ON orders (user_id, accepted_at DESC);
//
//	CREATE TABLE room_messages (
//	    id      TEXT PRIMARY KEY,
//	    room_id TEXT NOT NULL,
//	    author  TEXT NOT NULL,
//	    body    TEXT NOT NULL,
//	    sent_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX room_messages_room_idx ON room_messages (room_id, sent_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol, kind, side, quantity, limit_price, status, reason, execution_price, accepted_at, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10::NUMERIC, $11, $12)`,
		o.ID, o.UserID, o.Symbol, o.Kind, o.Side, o.Quantity,
		o.LimitPrice.String(), o.Status, o.Reason, o.ExecutionPrice.String(),
		o.AcceptedAt, o.SettledAt,
	)
	return err
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, reason = $3, execution_price = $4::NUMERIC, settled_at = $5
		 WHERE id = $1`,
		o.ID, o.Status, o.Reason, o.ExecutionPrice.String(), o.SettledAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		orderSelect+` WHERE user_id = $1 ORDER BY accepted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_messages (id, room_id, author, body, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RoomID, m.Author, m.Text, m.SentAt,
	)
	return err
}

func (s *PostgresStore) ListMessagesByRoom(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	// Fetch the newest rows, then reverse into arrival order.
	q := `SELECT id, room_id, author, body, sent_at
	      FROM room_messages WHERE room_id = $1 ORDER BY sent_at DESC`
	args := []any{roomID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Author, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

const orderSelect = `SELECT id, user_id, symbol, kind, side, quantity,
       limit_price::TEXT, status, reason, execution_price::TEXT,
       accepted_at, settled_at
FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var limitS, execS *string

	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Kind, &o.Side, &o.Quantity,
		&limitS, &o.Status, &o.Reason, &execS,
		&o.AcceptedAt, &o.SettledAt); err != nil {
		return nil, err
	}

	if limitS != nil {
		o.LimitPrice, _ = decimal.NewFromString(*limitS)
	}
	if execS != nil {
		o.ExecutionPrice, _ = decimal.NewFromString(*execS)
	}
	return &o, nil
}
