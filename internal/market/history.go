package market

import (
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/model"
)

// historyPoints is the fixed point count of a historical series.
const historyPoints = 101

// historyVolatility is the per-step noise amplitude of the look-back walk.
const historyVolatility = 0.02

var half = decimal.NewFromFloat(0.5)

// History derives a synthetic look-back series for symbol spanning
// now−hours..now, oldest first. The walk runs backward from the live price
// so the last point equals the current quote; every point is floored at
// half the live price to cap drift. Change fields are relative to the
// predecessor point, zero for the first.
//
// History is a pure function of the current price and randomness: it never
// mutates simulator state and is safe to call concurrently with ticking.
func (s *Simulator) History(symbol string, hours int) []model.Quote {
	base := s.CurrentPrice(symbol)
	if !base.IsPositive() {
		return []model.Quote{}
	}

	floor := base.Mul(half)
	step := time.Duration(hours) * time.Hour / (historyPoints - 1)
	now := time.Now().UTC()

	prices := make([]decimal.Decimal, historyPoints)
	prices[historyPoints-1] = base
	for i := historyPoints - 2; i >= 0; i-- {
		noise := base.Mul(decimal.NewFromFloat((rand.Float64()*2 - 1) * historyVolatility))
		p := prices[i+1].Sub(noise)
		if p.LessThan(floor) {
			p = floor
		}
		prices[i] = p
	}

	series := make([]model.Quote, historyPoints)
	for i, p := range prices {
		q := model.Quote{
			Symbol:    symbol,
			Price:     p,
			Volume:    rand.Int64N(10000) + 1000,
			Timestamp: now.Add(-time.Duration(historyPoints-1-i) * step),
		}
		if i > 0 {
			prev := prices[i-1]
			q.Change = p.Sub(prev)
			q.ChangePercent = q.Change.Div(prev).Mul(hundred)
		}
		series[i] = q
	}
	return series
}
