// Package api exposes the trading REST surface: portfolio, orders, market
// data, AI signals, and chat rooms.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tradesync/market-engine/internal/engine"
	"github.com/tradesync/market-engine/internal/ledger"
	"github.com/tradesync/market-engine/internal/market"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/room"
	"github.com/tradesync/market-engine/internal/signal"
)

const maxSymbolLen = 10

// Service bundles the collaborators the HTTP handlers need.
type Service struct {
	engine  *engine.Engine
	sim     *market.Simulator
	rooms   *room.Service
	ledger  *ledger.Ledger
	signals *signal.Client
}

func NewService(eng *engine.Engine, sim *market.Simulator, rooms *room.Service, led *ledger.Ledger, signals *signal.Client) *Service {
	return &Service{engine: eng, sim: sim, rooms: rooms, ledger: led, signals: signals}
}

// Router returns the /api/trading route tree. Identity runs on every route.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Identity)

	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/orders", s.ListOrders)
	r.Post("/orders", s.PlaceOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Get("/market-data", s.GetMarketData)
	r.Get("/ai-signal", s.GetSignal)
	r.Post("/sentiment", s.AnalyzeSentiment)

	r.Get("/rooms", s.ListRooms)
	r.Post("/rooms", s.CreateRoom)
	r.Get("/rooms/{roomID}", s.GetRoom)
	r.Post("/rooms/{roomID}/join", s.JoinRoom)
	r.Post("/rooms/{roomID}/leave", s.LeaveRoom)
	r.Get("/rooms/{roomID}/messages", s.ListMessages)
	r.Post("/rooms/{roomID}/messages", s.PostMessage)

	return r
}

// GetPortfolio handles GET /api/trading/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	s.ledger.GetOrCreate(user.ID)
	pf, err := s.ledger.Valuate(user.ID, s.sim.CurrentPrice)
	if err != nil {
		writeError(w, "portfolio unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// PlaceOrder handles POST /api/trading/orders. A well-formed order the
// account cannot afford still returns 200 with a rejected record; only
// malformed requests get 400.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	var req model.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Symbol) > maxSymbolLen {
		writeError(w, "symbol too long", http.StatusBadRequest)
		return
	}

	order, err := s.engine.Submit(r.Context(), user.ID, req)
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "order submission failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if order.Status == model.StatusRejected {
		status = http.StatusOK
	}
	writeJSON(w, status, order)
}

// ListOrders handles GET /api/trading/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	orders, err := s.engine.Orders(r.Context(), user.ID)
	if err != nil {
		writeError(w, "order lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder handles DELETE /api/trading/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	orderID := chi.URLParam(r, "orderID")

	order, err := s.engine.Cancel(r.Context(), orderID, user.ID)
	switch {
	case errors.Is(err, engine.ErrOrderNotFound):
		writeError(w, "order not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrNotPending):
		writeError(w, "order already settled", http.StatusConflict)
	case err != nil:
		writeError(w, "cancel failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, order)
	}
}

// GetMarketData handles GET /api/trading/market-data?symbol=AAPL&hours=24
func (s *Service) GetMarketData(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		hours = n
	}

	points := s.sim.History(symbol, hours)
	if len(points) == 0 {
		writeError(w, "unknown symbol", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"data":   points,
	})
}

// GetSignal handles GET /api/trading/ai-signal?symbol=AAPL
func (s *Service) GetSignal(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	current := s.sim.CurrentPrice(symbol)
	if !current.IsPositive() {
		writeError(w, "unknown symbol", http.StatusNotFound)
		return
	}

	sig := s.signals.TradingSignal(r.Context(), symbol, s.sim.History(symbol, 24), current)
	writeJSON(w, http.StatusOK, sig)
}

// AnalyzeSentiment handles POST /api/trading/sentiment
func (s *Service) AnalyzeSentiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, "text is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.signals.Sentiment(r.Context(), req.Text))
}

// ListRooms handles GET /api/trading/rooms
func (s *Service) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.List())
}

// CreateRoom handles POST /api/trading/rooms
func (s *Service) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	created, err := s.rooms.Create(req.Name)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRoom handles GET /api/trading/rooms/{roomID}
func (s *Service) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// JoinRoom handles POST /api/trading/rooms/{roomID}/join
func (s *Service) JoinRoom(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	rm, err := s.rooms.Join(chi.URLParam(r, "roomID"), user.ID)
	if err != nil {
		writeError(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// LeaveRoom handles POST /api/trading/rooms/{roomID}/leave
func (s *Service) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	rm, err := s.rooms.Leave(chi.URLParam(r, "roomID"), user.ID)
	if err != nil {
		writeError(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// ListMessages handles GET /api/trading/rooms/{roomID}/messages?limit=50
func (s *Service) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	// A room with no history, known or not, is an empty list.
	msgs, err := s.rooms.Recent(r.Context(), chi.URLParam(r, "roomID"), limit)
	if err != nil {
		writeError(w, "message lookup failed", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostMessage handles POST /api/trading/rooms/{roomID}/messages
func (s *Service) PostMessage(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := s.rooms.Post(r.Context(), chi.URLParam(r, "roomID"), user.Username, req.Text)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		writeError(w, "room not found", http.StatusNotFound)
	case errors.Is(err, room.ErrEmptyMessage):
		writeError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		writeError(w, "message failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
