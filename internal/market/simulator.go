// Package market provides the synthetic price simulator and the derived
// historical-series generator. The simulator's tick goroutine is the sole
// writer of the price table; all other callers are readers.
package market

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/pubsub"
)

// minPrice is the positivity floor applied after every random-walk step.
var minPrice = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// DefaultSeeds are the demo instruments and their starting prices.
func DefaultSeeds() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL":  decimal.NewFromFloat(150.25),
		"MSFT":  decimal.NewFromFloat(330.45),
		"GOOGL": decimal.NewFromFloat(2800.75),
		"TSLA":  decimal.NewFromFloat(250.60),
		"NVDA":  decimal.NewFromFloat(490.30),
		"AMZN":  decimal.NewFromFloat(3400.20),
	}
}

// Config controls the simulator's tick cadence and noise amplitude.
// The ambient profile (1s / 0.002) matches the public quote stream; a
// faster engine profile (100ms / 0.01) is a deployment choice. Both keep
// prices strictly positive via the minPrice floor.
type Config struct {
	Interval   time.Duration
	Volatility float64
	Seeds      map[string]decimal.Decimal
}

// Simulator advances a synthetic price for every tracked symbol on a fixed
// tick and publishes one QuoteEvent per symbol per tick.
type Simulator struct {
	bus        *pubsub.Broadcaster
	interval   time.Duration
	volatility float64

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// New creates a simulator seeded with cfg.Seeds (DefaultSeeds when nil).
func New(bus *pubsub.Broadcaster, cfg Config) *Simulator {
	seeds := cfg.Seeds
	if seeds == nil {
		seeds = DefaultSeeds()
	}
	prices := make(map[string]decimal.Decimal, len(seeds))
	for sym, p := range seeds {
		prices[sym] = p
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	volatility := cfg.Volatility
	if volatility <= 0 {
		volatility = 0.002
	}
	return &Simulator{
		bus:        bus,
		interval:   interval,
		volatility: volatility,
		prices:     prices,
	}
}

// Run ticks until ctx is cancelled. No public operation blocks the tick
// timer: readers take the RLock only for the table copy inside Tick.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick advances every tracked symbol once:
// newPrice = max(minPrice, price + price·U(−k, k)).
func (s *Simulator) Tick() {
	now := time.Now().UTC()

	s.mu.Lock()
	quotes := make([]model.Quote, 0, len(s.prices))
	for sym, price := range s.prices {
		noise := decimal.NewFromFloat((rand.Float64()*2 - 1) * s.volatility)
		next := price.Add(price.Mul(noise))
		if next.LessThan(minPrice) {
			next = minPrice
		}
		s.prices[sym] = next

		change := next.Sub(price)
		quotes = append(quotes, model.Quote{
			Symbol:        sym,
			Price:         next,
			Volume:        rand.Int64N(10000) + 1000,
			Change:        change,
			ChangePercent: change.Div(price).Mul(hundred),
			Timestamp:     now,
		})
	}
	s.mu.Unlock()

	for _, q := range quotes {
		s.bus.Publish(model.PriceTopic(q.Symbol), model.QuoteEvent{Quote: q})
		metrics.PriceTicks.WithLabelValues(q.Symbol).Inc()
	}
}

// CurrentPrice returns the latest known price, or zero for an unknown
// symbol. Never blocks on the tick.
func (s *Simulator) CurrentPrice(symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[symbol]
}

// Symbols lists the tracked symbols in stable order.
func (s *Simulator) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	syms := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}
