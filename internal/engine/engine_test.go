package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/engine"
	"github.com/tradesync/market-engine/internal/ledger"
	"github.com/tradesync/market-engine/internal/market"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/pubsub"
	"github.com/tradesync/market-engine/internal/risk"
	"github.com/tradesync/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeScheduler captures settlement tasks so tests fire them on demand
// instead of sleeping.
type fakeScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *fakeScheduler) Schedule(_ time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
	return func() bool { return true }
}

// fire runs the i-th captured task.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	fn := s.fns[i]
	s.mu.Unlock()
	fn()
}

type testEnv struct {
	bus    *pubsub.Broadcaster
	sim    *market.Simulator
	ledger *ledger.Ledger
	sched  *fakeScheduler
	eng    *engine.Engine
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, startingCash float64, seeds map[string]decimal.Decimal) *testEnv {
	t.Helper()
	if seeds == nil {
		seeds = map[string]decimal.Decimal{"AAPL": d(150), "MSFT": d(330)}
	}
	bus := pubsub.New()
	sim := market.New(bus, market.Config{Seeds: seeds})
	led := ledger.New(d(startingCash))
	sched := &fakeScheduler{}
	ms := store.NewMemoryStore()
	eng := engine.New(sim, led, bus, ms, nil, sched, 50*time.Millisecond)
	return &testEnv{bus: bus, sim: sim, ledger: led, sched: sched, eng: eng, store: ms}
}

// collectEvents subscribes to the user's order and portfolio topics before
// any submission, recording events in arrival order.
func (env *testEnv) collectEvents(userID string) *[]model.Event {
	var events []model.Event
	record := func(ev model.Event) { events = append(events, ev) }
	env.bus.Subscribe(model.OrdersTopic(userID), record)
	env.bus.Subscribe(model.PortfolioTopic(userID), record)
	return &events
}

func marketBuy(symbol string, qty int64) model.OrderRequest {
	return model.OrderRequest{Symbol: symbol, Kind: model.OrderMarket, Side: model.SideBuy, Quantity: qty}
}

func TestSubmit_ReturnsPendingImmediately(t *testing.T) {
	env := newTestEnv(t, 100000, nil)

	order, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Status != model.StatusPending {
		t.Errorf("expected pending, got %s", order.Status)
	}
	if order.ID == "" || order.AcceptedAt.IsZero() {
		t.Errorf("order record incomplete: %+v", order)
	}
	if order.SettledAt != nil {
		t.Errorf("pending order must not carry a settlement time")
	}
}

func TestSettle_MarketBuyCashMath(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(150)})

	order, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	env.sched.fire(0)

	got, err := env.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != model.StatusFilled {
		t.Fatalf("expected filled, got %s (%s)", got.Status, got.Reason)
	}
	if !got.ExecutionPrice.Equal(d(150)) {
		t.Errorf("execution price: got %s, want 150", got.ExecutionPrice)
	}
	if got.SettledAt == nil {
		t.Error("filled order missing settled_at")
	}

	pf := env.ledger.GetOrCreate("user1")
	if !pf.Cash.Equal(d(98500)) {
		t.Errorf("cash after fill: got %s, want 98500", pf.Cash)
	}
	if pf.Positions["AAPL"] != 10 {
		t.Errorf("position after fill: got %d, want 10", pf.Positions["AAPL"])
	}
}

func TestSubmit_InsufficientFundsRejectedRecord(t *testing.T) {
	env := newTestEnv(t, 100, map[string]decimal.Decimal{"AAPL": d(50)})

	order, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("business-rule rejection must not error: %v", err)
	}
	if order.Status != model.StatusRejected {
		t.Fatalf("expected rejected record, got %s", order.Status)
	}
	if order.Reason == "" {
		t.Error("rejected record should carry a reason")
	}

	pf := env.ledger.GetOrCreate("user1")
	if !pf.Cash.Equal(d(100)) {
		t.Errorf("cash changed on rejection: %s", pf.Cash)
	}
	if len(env.sched.fns) != 0 {
		t.Error("rejected order must not schedule settlement")
	}
}

func TestSubmit_InsufficientPositionRejected(t *testing.T) {
	env := newTestEnv(t, 1000, nil)

	order, err := env.eng.Submit(context.Background(), "user1", model.OrderRequest{
		Symbol: "AAPL", Kind: model.OrderMarket, Side: model.SideSell, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("submit errored: %v", err)
	}
	if order.Status != model.StatusRejected {
		t.Errorf("expected rejected, got %s", order.Status)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, 1000, nil)
	ctx := context.Background()

	cases := []model.OrderRequest{
		{Symbol: "", Kind: model.OrderMarket, Side: model.SideBuy, Quantity: 1},
		{Symbol: "AAPL", Kind: "stop", Side: model.SideBuy, Quantity: 1},
		{Symbol: "AAPL", Kind: model.OrderMarket, Side: "short", Quantity: 1},
		{Symbol: "AAPL", Kind: model.OrderMarket, Side: model.SideBuy, Quantity: 0},
		{Symbol: "AAPL", Kind: model.OrderMarket, Side: model.SideBuy, Quantity: -5},
		{Symbol: "AAPL", Kind: model.OrderLimit, Side: model.SideBuy, Quantity: 1},
	}
	for _, req := range cases {
		if _, err := env.eng.Submit(ctx, "user1", req); !errors.Is(err, engine.ErrValidation) {
			t.Errorf("request %+v: expected ErrValidation, got %v", req, err)
		}
	}
}

func TestSettle_LimitBuyExecutesAtLimitPrice(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(145)})

	order, err := env.eng.Submit(context.Background(), "user1", model.OrderRequest{
		Symbol: "AAPL", Kind: model.OrderLimit, Side: model.SideBuy,
		Quantity: 5, LimitPrice: d(150),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	env.sched.fire(0)

	got, _ := env.store.GetOrder(context.Background(), order.ID)
	if !got.ExecutionPrice.Equal(d(150)) {
		t.Errorf("limit order must execute at its limit price, got %s", got.ExecutionPrice)
	}
	pf := env.ledger.GetOrCreate("user1")
	if !pf.Cash.Equal(d(99250)) {
		t.Errorf("cash after limit fill: got %s, want 99250", pf.Cash)
	}
}

func TestSettle_MarketOrderSlippage(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(150)})

	submitPrice := env.sim.CurrentPrice("AAPL")
	order, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// The market moves before the settlement timer fires.
	env.sim.Tick()
	settlePrice := env.sim.CurrentPrice("AAPL")

	env.sched.fire(0)

	got, _ := env.store.GetOrder(context.Background(), order.ID)
	if !got.ExecutionPrice.Equal(settlePrice) {
		t.Errorf("market order must fill at settlement-time price %s, got %s (submit-time was %s)",
			settlePrice, got.ExecutionPrice, submitPrice)
	}
}

func TestSettle_IdempotentOnDuplicateFire(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(100)})

	if _, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 10)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Simulate a duplicate timer fire.
	env.sched.fire(0)
	env.sched.fire(0)

	pf := env.ledger.GetOrCreate("user1")
	if !pf.Cash.Equal(d(99000)) {
		t.Errorf("duplicate settlement double-applied: cash %s, want 99000", pf.Cash)
	}
	if pf.Positions["AAPL"] != 10 {
		t.Errorf("duplicate settlement double-applied: position %d, want 10", pf.Positions["AAPL"])
	}
}

func TestSettle_RaceShortfallRejects(t *testing.T) {
	// Cash covers one order at submit time for both, but only one can settle.
	env := newTestEnv(t, 1500, map[string]decimal.Decimal{"AAPL": d(100)})
	ctx := context.Background()

	events := env.collectEvents("user1")

	o1, err := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit 1 failed: %v", err)
	}
	o2, err := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit 2 failed: %v", err)
	}
	if o1.Status != model.StatusPending || o2.Status != model.StatusPending {
		t.Fatalf("both orders should be accepted at submit time")
	}

	env.sched.fire(0)
	env.sched.fire(1)

	got1, _ := env.store.GetOrder(ctx, o1.ID)
	got2, _ := env.store.GetOrder(ctx, o2.ID)
	if got1.Status != model.StatusFilled {
		t.Errorf("first order: expected filled, got %s", got1.Status)
	}
	if got2.Status != model.StatusRejected {
		t.Errorf("second order: expected rejected at settlement, got %s", got2.Status)
	}

	// The shortfall must be announced, never silently dropped.
	var sawRejection bool
	for _, ev := range *events {
		if oe, ok := ev.(model.OrderEvent); ok && oe.Order.ID == o2.ID && oe.Stage == model.StageRejected {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Error("settlement-time rejection event not published")
	}
}

func TestSettle_EventOrderingAcceptedThenFilled(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(100)})
	events := env.collectEvents("user1")

	if _, err := env.eng.Submit(context.Background(), "user1", marketBuy("AAPL", 1)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	env.sched.fire(0)

	var stages []model.OrderStage
	var sawPortfolio bool
	for _, ev := range *events {
		switch e := ev.(type) {
		case model.OrderEvent:
			stages = append(stages, e.Stage)
		case model.PortfolioEvent:
			sawPortfolio = true
			if !e.Portfolio.TotalValue.IsPositive() {
				t.Error("portfolio snapshot missing valuation")
			}
		}
	}
	if len(stages) != 2 || stages[0] != model.StageAccepted || stages[1] != model.StageFilled {
		t.Errorf("expected [accepted filled], got %v", stages)
	}
	if !sawPortfolio {
		t.Error("expected a portfolio snapshot event after fill")
	}
}

func TestSettle_SellFullPositionRemovesEntry(t *testing.T) {
	env := newTestEnv(t, 0, map[string]decimal.Decimal{"AAPL": d(100)})
	env.ledger.Seed("user1", d(0), map[string]int64{"AAPL": 5})

	_, err := env.eng.Submit(context.Background(), "user1", model.OrderRequest{
		Symbol: "AAPL", Kind: model.OrderMarket, Side: model.SideSell, Quantity: 5,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	env.sched.fire(0)

	if pos := env.ledger.Positions("user1"); len(pos) != 0 {
		t.Errorf("expected position entry removed after full sell, got %v", pos)
	}
}

func TestCancel_PendingOrder(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(100)})
	ctx := context.Background()

	order, err := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 10))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	cancelled, err := env.eng.Cancel(ctx, order.ID, "user1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// A racing timer fire after cancellation is a no-op.
	env.sched.fire(0)
	pf := env.ledger.GetOrCreate("user1")
	if !pf.Cash.Equal(d(100000)) {
		t.Errorf("cancelled order mutated the ledger: cash %s", pf.Cash)
	}
}

func TestCancel_SettledOrder(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(100)})
	ctx := context.Background()

	order, _ := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 1))
	env.sched.fire(0)

	if _, err := env.eng.Cancel(ctx, order.ID, "user1"); !errors.Is(err, engine.ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestCancel_UnknownOrWrongOwner(t *testing.T) {
	env := newTestEnv(t, 100000, nil)
	ctx := context.Background()

	if _, err := env.eng.Cancel(ctx, "ghost", "user1"); !errors.Is(err, engine.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for unknown id, got %v", err)
	}

	order, _ := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 1))
	if _, err := env.eng.Cancel(ctx, order.ID, "intruder"); !errors.Is(err, engine.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestSubmit_RiskLimitRejectedRecord(t *testing.T) {
	bus := pubsub.New()
	sim := market.New(bus, market.Config{Seeds: map[string]decimal.Decimal{"AAPL": d(1)}})
	led := ledger.New(d(100000))
	sched := &fakeScheduler{}
	eng := engine.New(sim, led, bus, store.NewMemoryStore(), risk.NewLimiter(100, 0), sched, time.Millisecond)

	order, err := eng.Submit(context.Background(), "user1", marketBuy("AAPL", 101))
	if err != nil {
		t.Fatalf("risk rejection must not error: %v", err)
	}
	if order.Status != model.StatusRejected {
		t.Errorf("expected rejected record, got %s", order.Status)
	}
	if order.Reason != risk.ErrSymbolLimitExceeded.Error() {
		t.Errorf("reason: got %q, want %q", order.Reason, risk.ErrSymbolLimitExceeded.Error())
	}
}

func TestOrders_ListNewestFirst(t *testing.T) {
	env := newTestEnv(t, 100000, map[string]decimal.Decimal{"AAPL": d(10)})
	ctx := context.Background()

	first, _ := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 1))
	second, _ := env.eng.Submit(ctx, "user1", marketBuy("AAPL", 2))

	orders, err := env.eng.Orders(ctx, "user1")
	if err != nil {
		t.Fatalf("orders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Errorf("expected newest first")
	}
}
