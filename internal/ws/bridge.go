// Package ws bridges the in-process event bus onto WebSocket sessions.
// Each session picks its own topics; the bridge mirrors bus events into
// typed JSON frames and accepts order and chat actions inbound.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradesync/market-engine/internal/engine"
	"github.com/tradesync/market-engine/internal/ledger"
	"github.com/tradesync/market-engine/internal/market"
	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/pubsub"
	"github.com/tradesync/market-engine/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// Bridge wires WebSocket sessions to the event bus and the trading
// collaborators.
type Bridge struct {
	bus    *pubsub.Broadcaster
	sim    *market.Simulator
	eng    *engine.Engine
	rooms  *room.Service
	ledger *ledger.Ledger
}

func NewBridge(bus *pubsub.Broadcaster, sim *market.Simulator, eng *engine.Engine, rooms *room.Service, led *ledger.Ledger) *Bridge {
	return &Bridge{bus: bus, sim: sim, eng: eng, rooms: rooms, ledger: led}
}

// clientFrame is the inbound action envelope.
type clientFrame struct {
	Action string              `json:"action"`
	Symbol string              `json:"symbol,omitempty"`
	RoomID string              `json:"room_id,omitempty"`
	Text   string              `json:"text,omitempty"`
	Order  *model.OrderRequest `json:"order,omitempty"`
}

// serverFrame is the outbound envelope. Exactly one payload field is set
// per frame, keyed by Type.
type serverFrame struct {
	Type      string              `json:"type"`
	Quote     *model.Quote        `json:"quote,omitempty"`
	Symbol    string              `json:"symbol,omitempty"`
	Data      []model.Quote       `json:"data,omitempty"`
	Order     *model.Order        `json:"order,omitempty"`
	Stage     string              `json:"stage,omitempty"`
	Portfolio *model.Portfolio    `json:"portfolio,omitempty"`
	Room      *model.Room         `json:"room,omitempty"`
	Messages  []model.ChatMessage `json:"messages,omitempty"`
	Message   *model.ChatMessage  `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// session is one connected client. Writes go through send so the bus
// callbacks never block on the socket.
type session struct {
	bridge *Bridge
	conn   *websocket.Conn
	userID string
	user   string

	// send is never closed; late bus callbacks may still queue after
	// disconnect and the frames are simply dropped. done stops writePump.
	send chan serverFrame
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*pubsub.Subscription
}

// HandleWS upgrades GET /api/trading/ws.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	userID, username := identify(r)
	s := &session{
		bridge: b,
		conn:   conn,
		userID: userID,
		user:   username,
		send:   make(chan serverFrame, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*pubsub.Subscription),
	}

	metrics.WebSocketSessions.Inc()
	slog.Info("ws client connected", "user", userID)

	// Order and portfolio events for this user flow regardless of explicit
	// subscriptions.
	s.subscribe(model.OrdersTopic(userID))
	s.subscribe(model.PortfolioTopic(userID))

	// Initial snapshot so the client can render state before the first fill.
	b.ledger.GetOrCreate(userID)
	if pf, err := b.ledger.Valuate(userID, b.sim.CurrentPrice); err == nil {
		s.queue(serverFrame{Type: "portfolioUpdate", Portfolio: &pf})
	}

	go s.writePump()
	go s.readPump()
}

func identify(r *http.Request) (id, name string) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token, token
		}
	}
	return "user-123", "demo-trader"
}

// subscribe attaches the session to a bus topic once. Events are converted
// to frames and queued; a full queue drops the frame rather than blocking
// the publisher.
func (s *session) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[topic]; ok {
		return
	}
	s.subs[topic] = s.bridge.bus.Subscribe(topic, func(ev model.Event) {
		frame, ok := toFrame(ev)
		if !ok {
			return
		}
		select {
		case s.send <- frame:
		default:
		}
	})
}

func (s *session) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[topic]; ok {
		sub.Close()
		delete(s.subs, topic)
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, sub := range s.subs {
		sub.Close()
		delete(s.subs, topic)
	}
}

func toFrame(ev model.Event) (serverFrame, bool) {
	switch e := ev.(type) {
	case model.QuoteEvent:
		q := e.Quote
		return serverFrame{Type: "marketData", Quote: &q}, true
	case model.OrderEvent:
		o := e.Order
		return serverFrame{Type: "orderUpdate", Order: &o, Stage: string(e.Stage)}, true
	case model.PortfolioEvent:
		p := e.Portfolio
		return serverFrame{Type: "portfolioUpdate", Portfolio: &p}, true
	case model.RoomEvent:
		r := e.Room
		return serverFrame{Type: "roomUpdate", Room: &r}, true
	case model.MessageEvent:
		m := e.Message
		return serverFrame{Type: "newMessage", Message: &m}, true
	}
	return serverFrame{}, false
}

func (s *session) readPump() {
	defer func() {
		s.closeAll()
		s.conn.Close()
		close(s.done)
		metrics.WebSocketSessions.Dec()
		slog.Info("ws client disconnected", "user", s.userID)
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError("invalid frame")
			continue
		}
		s.handle(frame)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) handle(frame clientFrame) {
	switch frame.Action {
	case "subscribe":
		if frame.Symbol == "" {
			s.sendError("symbol is required")
			return
		}
		// History snapshot first, then the live feed.
		history := s.bridge.sim.History(frame.Symbol, 24)
		if len(history) == 0 {
			s.sendError("unknown symbol")
			return
		}
		s.queue(serverFrame{Type: "historicalData", Symbol: frame.Symbol, Data: history})
		s.subscribe(model.PriceTopic(frame.Symbol))

	case "unsubscribe":
		if frame.Symbol != "" {
			s.unsubscribe(model.PriceTopic(frame.Symbol))
		}

	case "joinRoom":
		rm, err := s.bridge.rooms.Join(frame.RoomID, s.userID)
		if err != nil {
			s.sendError("room not found")
			return
		}
		s.subscribe(model.RoomTopic(frame.RoomID))
		msgs, _ := s.bridge.rooms.Recent(context.Background(), frame.RoomID, 50)
		s.queue(serverFrame{Type: "roomState", Room: &rm, Messages: msgs})

	case "leaveRoom":
		if _, err := s.bridge.rooms.Leave(frame.RoomID, s.userID); err != nil {
			s.sendError("room not found")
			return
		}
		s.unsubscribe(model.RoomTopic(frame.RoomID))

	case "sendMessage":
		if _, err := s.bridge.rooms.Post(context.Background(), frame.RoomID, s.user, frame.Text); err != nil {
			s.sendError(err.Error())
		}

	case "placeOrder":
		if frame.Order == nil {
			s.sendError("order is required")
			return
		}
		if _, err := s.bridge.eng.Submit(context.Background(), s.userID, *frame.Order); err != nil {
			s.sendError(err.Error())
		}
		// Acceptance, fills, and rejections arrive on the user's order
		// topic, already wired at connect time.

	default:
		s.sendError("unknown action")
	}
}

func (s *session) queue(frame serverFrame) {
	select {
	case s.send <- frame:
	default:
	}
}

func (s *session) sendError(msg string) {
	s.queue(serverFrame{Type: "error", Error: msg})
}
