// Package ledger tracks per-user cash and positions and applies order
// settlement deltas.
//
// Concurrency: accounts live behind the registry RWMutex; every account
// carries its own mutex so settlements for the same user serialize while
// different users settle fully in parallel.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy's cost exceeds current cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientPosition is returned when a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")

	// ErrUserNotFound is returned by read paths for a user the ledger has
	// never seen, where lazy creation is not desired.
	ErrUserNotFound = errors.New("ledger: user not found")
)

// PriceFunc supplies the current price for a symbol. Valuation takes the
// lookup as a parameter so the ledger never depends on the simulator.
type PriceFunc func(symbol string) decimal.Decimal

// account holds one user's financial state. Fields must not be touched
// without the account mutex.
type account struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]int64
}

// Ledger owns every account. Entries are created lazily and never deleted
// during the process lifetime.
type Ledger struct {
	mu           sync.RWMutex
	accounts     map[string]*account
	startingCash decimal.Decimal
}

// New creates an empty ledger. startingCash seeds each lazily created account.
func New(startingCash decimal.Decimal) *Ledger {
	return &Ledger{
		accounts:     make(map[string]*account),
		startingCash: startingCash,
	}
}

func (l *Ledger) getOrCreate(userID string) *account {
	l.mu.RLock()
	a, ok := l.accounts[userID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[userID]; ok {
		return a
	}
	a = &account{
		cash:      l.startingCash,
		positions: make(map[string]int64),
	}
	l.accounts[userID] = a
	return a
}

func (l *Ledger) lookup(userID string) (*account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[userID]
	return a, ok
}

// Seed creates or replaces an account with an explicit balance and
// positions. Intended for startup seed data only.
func (l *Ledger) Seed(userID string, cash decimal.Decimal, positions map[string]int64) {
	pos := make(map[string]int64, len(positions))
	for sym, qty := range positions {
		if qty > 0 {
			pos[sym] = qty
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[userID] = &account{cash: cash, positions: pos}
}

// GetOrCreate returns the user's raw cash/position state, creating the
// account with the seeded starting balance on first access.
func (l *Ledger) GetOrCreate(userID string) model.Portfolio {
	a := l.getOrCreate(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.Portfolio{
		UserID:    userID,
		Cash:      a.cash,
		Positions: copyPositions(a.positions),
		Timestamp: time.Now().UTC(),
	}
}

var pnlFraction = decimal.NewFromFloat(0.1)

// Valuate recomputes totalValue = cash + Σ(qty × price(sym)) and an
// unrealized P&L figure using the supplied price lookup. It is a read with
// derived fields, not a mutation. Returns ErrUserNotFound for users the
// ledger has never seen.
func (l *Ledger) Valuate(userID string, price PriceFunc) (model.Portfolio, error) {
	a, ok := l.lookup(userID)
	if !ok {
		return model.Portfolio{}, ErrUserNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.cash
	pnl := decimal.Zero
	for sym, qty := range a.positions {
		value := price(sym).Mul(decimal.NewFromInt(qty))
		total = total.Add(value)
		// No cost basis is tracked; unrealized gain is estimated at 10%
		// of position value.
		pnl = pnl.Add(value.Mul(pnlFraction))
	}

	return model.Portfolio{
		UserID:        userID,
		Cash:          a.cash,
		Positions:     copyPositions(a.positions),
		TotalValue:    total,
		UnrealizedPnL: pnl,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Apply settles one order delta against the account. Buys decrease cash and
// increase the position; sells do the reverse, removing the entry when it
// reaches zero. The account mutex serializes same-user settlements so two
// concurrent sells can never both observe the same pre-decrement quantity.
func (l *Ledger) Apply(userID, symbol string, side model.OrderSide, quantity int64, executionPrice decimal.Decimal) error {
	a := l.getOrCreate(userID)

	a.mu.Lock()
	defer a.mu.Unlock()

	amount := executionPrice.Mul(decimal.NewFromInt(quantity))

	switch side {
	case model.SideBuy:
		if amount.GreaterThan(a.cash) {
			return ErrInsufficientFunds
		}
		a.cash = a.cash.Sub(amount)
		a.positions[symbol] += quantity
	case model.SideSell:
		held := a.positions[symbol]
		if quantity > held {
			return ErrInsufficientPosition
		}
		a.cash = a.cash.Add(amount)
		if held == quantity {
			delete(a.positions, symbol)
		} else {
			a.positions[symbol] = held - quantity
		}
	}
	return nil
}

// Positions returns a copy of the user's position map, nil for an unknown
// user.
func (l *Ledger) Positions(userID string) map[string]int64 {
	a, ok := l.lookup(userID)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyPositions(a.positions)
}

func copyPositions(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for sym, qty := range src {
		dst[sym] = qty
	}
	return dst
}
