// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one observation of an instrument's simulated price. Each tick
// produces a new Quote; emitted quotes are never edited.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Volume        int64           `json:"volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderKind selects how the execution price is resolved at settlement.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle. Transitions are monotonic:
// pending → filled | rejected | cancelled, never reversed.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusRejected  OrderStatus = "rejected"
	StatusCancelled OrderStatus = "cancelled"
)

// OrderRequest is the inbound order submission shape. LimitPrice is zero
// when the caller did not supply one.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Kind       OrderKind       `json:"type"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"`
	LimitPrice decimal.Decimal `json:"price"`
}

// Order is the record created on submission. Identity is the order ID;
// ownership is the submitting user.
type Order struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Kind           OrderKind       `json:"type" db:"kind"`
	Side           OrderSide       `json:"side" db:"side"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	LimitPrice     decimal.Decimal `json:"price" db:"limit_price"`
	Status         OrderStatus     `json:"status" db:"status"`
	Reason         string          `json:"reason,omitempty" db:"reason"`
	ExecutionPrice decimal.Decimal `json:"execution_price" db:"execution_price"`
	AcceptedAt     time.Time       `json:"accepted_at" db:"accepted_at"`
	SettledAt      *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// Portfolio is a user's cash/position state plus valuation fields derived
// at read time from live prices.
type Portfolio struct {
	UserID        string           `json:"user_id"`
	Cash          decimal.Decimal  `json:"cash"`
	Positions     map[string]int64 `json:"positions"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Room is a chat room with a participant set.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatMessage is an append-only room message.
type ChatMessage struct {
	ID     string    `json:"id" db:"id"`
	RoomID string    `json:"room_id" db:"room_id"`
	Author string    `json:"user" db:"author"`
	Text   string    `json:"text" db:"body"`
	SentAt time.Time `json:"timestamp" db:"sent_at"`
}

// SignalAction is the recommendation of the AI signal collaborator.
type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalHold SignalAction = "HOLD"
)

// Signal is a trading recommendation, either from the AI service or
// generated locally when the service is unreachable.
type Signal struct {
	Signal     SignalAction `json:"signal"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Sentiment is the result of sentiment analysis on a piece of text.
type Sentiment struct {
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}
