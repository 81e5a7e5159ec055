package model

// Event is the tagged union published through the broadcaster. Consumers
// type-switch on the concrete event instead of probing optional fields.
type Event interface {
	isEvent()
}

// OrderStage names the lifecycle transition an OrderEvent announces.
type OrderStage string

const (
	StageAccepted  OrderStage = "accepted"
	StageFilled    OrderStage = "filled"
	StageRejected  OrderStage = "rejected"
	StageCancelled OrderStage = "cancelled"
)

// QuoteEvent carries one price tick for one symbol.
type QuoteEvent struct {
	Quote Quote
}

// OrderEvent announces an order lifecycle transition.
type OrderEvent struct {
	Stage OrderStage
	Order Order
}

// PortfolioEvent carries a post-settlement portfolio snapshot.
type PortfolioEvent struct {
	Portfolio Portfolio
}

// RoomEvent announces a membership change on a room.
type RoomEvent struct {
	Room Room
}

// MessageEvent announces a new chat message in a room.
type MessageEvent struct {
	Message ChatMessage
}

func (QuoteEvent) isEvent()     {}
func (OrderEvent) isEvent()     {}
func (PortfolioEvent) isEvent() {}
func (RoomEvent) isEvent()      {}
func (MessageEvent) isEvent()   {}

// Topic names. Each state-changing component publishes on exactly one of
// these per event.

func PriceTopic(symbol string) string { return "price:" + symbol }

func OrdersTopic(userID string) string { return "orders:" + userID }

func PortfolioTopic(userID string) string { return "portfolio:" + userID }

func RoomTopic(roomID string) string { return "room:" + roomID }
