// Package engine validates, accepts, and asynchronously settles orders
// against the price simulator and the ledger, publishing lifecycle events
// through the broadcaster.
//
// Rejection policy: business-rule failures (insufficient funds or position,
// risk limits) never return an error from Submit. The caller always gets an
// order record; rejection is expected control flow and is reported via the
// record's status and the event stream. Only malformed requests return
// ErrValidation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/ledger"
	"github.com/tradesync/market-engine/internal/market"
	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/pubsub"
	"github.com/tradesync/market-engine/internal/risk"
	"github.com/tradesync/market-engine/internal/store"
)

var (
	// ErrValidation marks a malformed order request, rejected before any
	// state is touched.
	ErrValidation = errors.New("engine: invalid order request")

	// ErrOrderNotFound is returned by Cancel for an unknown order or one
	// owned by a different user.
	ErrOrderNotFound = errors.New("engine: order not found")

	// ErrNotPending is returned by Cancel when the order already reached a
	// terminal state.
	ErrNotPending = errors.New("engine: order is not pending")
)

// Engine is the order engine. One instance per process, constructed by the
// composition root.
type Engine struct {
	sim     *market.Simulator
	ledger  *ledger.Ledger
	bus     *pubsub.Broadcaster
	archive store.Store
	limiter *risk.Limiter // nil disables position limits
	sched   Scheduler
	delay   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingOrder
}

type pendingOrder struct {
	order  model.Order
	cancel func() bool
}

// New creates an order engine. delay is the simulated settlement latency.
func New(sim *market.Simulator, led *ledger.Ledger, bus *pubsub.Broadcaster, archive store.Store, limiter *risk.Limiter, sched Scheduler, delay time.Duration) *Engine {
	if sched == nil {
		sched = NewTimerScheduler()
	}
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Engine{
		sim:     sim,
		ledger:  led,
		bus:     bus,
		archive: archive,
		limiter: limiter,
		sched:   sched,
		delay:   delay,
		pending: make(map[string]*pendingOrder),
	}
}

// Submit validates and accepts an order. It returns immediately: accepted
// orders come back pending and settle asynchronously after the configured
// latency, announced on the user's order topic. Business-rule rejections
// come back as rejected records with a nil error.
func (e *Engine) Submit(ctx context.Context, userID string, req model.OrderRequest) (*model.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	order := model.Order{
		ID:         uuid.New().String(),
		UserID:     userID,
		Symbol:     req.Symbol,
		Kind:       req.Kind,
		Side:       req.Side,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Status:     model.StatusPending,
		AcceptedAt: time.Now().UTC(),
	}

	if reason := e.check(userID, req); reason != nil {
		return e.reject(ctx, order, reason)
	}

	if err := e.archive.InsertOrder(ctx, &order); err != nil {
		return nil, fmt.Errorf("archive order: %w", err)
	}

	// Publish acceptance before arming the timer so settlement events for
	// this order always follow the acceptance event.
	metrics.OrdersTotal.WithLabelValues(string(order.Side), string(model.StatusPending)).Inc()
	e.bus.Publish(model.OrdersTopic(userID), model.OrderEvent{Stage: model.StageAccepted, Order: order})

	e.mu.Lock()
	p := &pendingOrder{order: order}
	e.pending[order.ID] = p
	p.cancel = e.sched.Schedule(e.delay, func() { e.settle(order.ID) })
	e.mu.Unlock()

	slog.Info("order accepted",
		"order_id", order.ID,
		"user", userID,
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Kind,
		"qty", order.Quantity,
	)
	return &order, nil
}

// check runs the submission-time business rules. A non-nil result is the
// rejection reason. The funds/position read here is advisory: settlement
// re-checks atomically against the ledger.
func (e *Engine) check(userID string, req model.OrderRequest) error {
	pf := e.ledger.GetOrCreate(userID)
	current := e.sim.CurrentPrice(req.Symbol)

	switch req.Side {
	case model.SideBuy:
		estimate := current
		if req.LimitPrice.IsPositive() {
			estimate = req.LimitPrice
		}
		cost := estimate.Mul(decimal.NewFromInt(req.Quantity))
		if cost.GreaterThan(pf.Cash) {
			return ledger.ErrInsufficientFunds
		}
	case model.SideSell:
		if req.Quantity > pf.Positions[req.Symbol] {
			return ledger.ErrInsufficientPosition
		}
	}

	if e.limiter != nil {
		delta := req.Quantity
		if req.Side == model.SideSell {
			delta = -req.Quantity
		}
		if err := e.limiter.Check(req.Symbol, delta, pf.Positions); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, order model.Order, reason error) (*model.Order, error) {
	order.Status = model.StatusRejected
	order.Reason = reason.Error()

	if err := e.archive.InsertOrder(ctx, &order); err != nil {
		return nil, fmt.Errorf("archive order: %w", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(order.Side), string(model.StatusRejected)).Inc()
	e.bus.Publish(model.OrdersTopic(order.UserID), model.OrderEvent{Stage: model.StageRejected, Order: order})

	slog.Info("order rejected",
		"order_id", order.ID,
		"user", order.UserID,
		"symbol", order.Symbol,
		"reason", order.Reason,
	)
	return &order, nil
}

// settle resolves one pending order. Safe to invoke more than once per
// order id: only the call that removes the order from the pending table
// applies the ledger delta, so a duplicate timer fire is a no-op.
func (e *Engine) settle(orderID string) {
	e.mu.Lock()
	p, ok := e.pending[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, orderID)
	order := p.order
	e.mu.Unlock()

	// Limit orders execute at their specified price; market orders re-read
	// the live price here, not at submission. This models slippage.
	execPrice := e.sim.CurrentPrice(order.Symbol)
	if order.Kind == model.OrderLimit && order.LimitPrice.IsPositive() {
		execPrice = order.LimitPrice
	}

	now := time.Now().UTC()
	order.SettledAt = &now
	ctx := context.Background()

	if err := e.ledger.Apply(order.UserID, order.Symbol, order.Side, order.Quantity, execPrice); err != nil {
		// Funds moved between acceptance and settlement. The order must
		// still resolve, never silently drop.
		order.Status = model.StatusRejected
		order.Reason = err.Error()
		if err := e.archive.UpdateOrder(ctx, &order); err != nil {
			slog.Error("archive settlement failed", "order_id", order.ID, "err", err)
		}
		metrics.OrdersTotal.WithLabelValues(string(order.Side), string(model.StatusRejected)).Inc()
		e.bus.Publish(model.OrdersTopic(order.UserID), model.OrderEvent{Stage: model.StageRejected, Order: order})
		slog.Warn("order rejected at settlement",
			"order_id", order.ID,
			"user", order.UserID,
			"reason", order.Reason,
		)
		return
	}

	order.Status = model.StatusFilled
	order.ExecutionPrice = execPrice
	if err := e.archive.UpdateOrder(ctx, &order); err != nil {
		slog.Error("archive settlement failed", "order_id", order.ID, "err", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(order.Side), string(model.StatusFilled)).Inc()
	metrics.SettlementLatency.Observe(now.Sub(order.AcceptedAt).Seconds())

	e.bus.Publish(model.OrdersTopic(order.UserID), model.OrderEvent{Stage: model.StageFilled, Order: order})

	if pf, err := e.ledger.Valuate(order.UserID, e.sim.CurrentPrice); err == nil {
		e.bus.Publish(model.PortfolioTopic(order.UserID), model.PortfolioEvent{Portfolio: pf})
	}

	slog.Info("order filled",
		"order_id", order.ID,
		"user", order.UserID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Quantity,
		"execution_price", execPrice.String(),
	)
}

// Cancel stops a still-pending order before its settlement fires. The race
// against the settlement timer is resolved by the pending table: whichever
// side removes the entry first wins.
func (e *Engine) Cancel(ctx context.Context, orderID, userID string) (*model.Order, error) {
	e.mu.Lock()
	p, ok := e.pending[orderID]
	if ok && p.order.UserID == userID {
		delete(e.pending, orderID)
		e.mu.Unlock()
		p.cancel()

		order := p.order
		order.Status = model.StatusCancelled
		if err := e.archive.UpdateOrder(ctx, &order); err != nil {
			slog.Error("archive cancel failed", "order_id", order.ID, "err", err)
		}
		metrics.OrdersTotal.WithLabelValues(string(order.Side), string(model.StatusCancelled)).Inc()
		e.bus.Publish(model.OrdersTopic(userID), model.OrderEvent{Stage: model.StageCancelled, Order: order})
		slog.Info("order cancelled", "order_id", order.ID, "user", userID)
		return &order, nil
	}
	e.mu.Unlock()

	o, err := e.archive.GetOrder(ctx, orderID)
	if err != nil || o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return nil, ErrNotPending
}

// Orders lists the user's orders, newest first.
func (e *Engine) Orders(ctx context.Context, userID string) ([]model.Order, error) {
	return e.archive.ListOrdersByUser(ctx, userID)
}

func validate(req model.OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if req.Kind != model.OrderMarket && req.Kind != model.OrderLimit {
		return fmt.Errorf("%w: type must be market or limit", ErrValidation)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if req.LimitPrice.IsNegative() {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.Kind == model.OrderLimit && !req.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limit orders require a positive price", ErrValidation)
	}
	return nil
}
