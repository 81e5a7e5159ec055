// Package risk enforces position limits at order submission time: a cap on
// the absolute position in any single symbol and a cap on aggregate
// exposure across all symbols.
package risk

import "errors"

var (
	// ErrSymbolLimitExceeded is returned when an order would push a single
	// symbol's position beyond the per-symbol maximum.
	ErrSymbolLimitExceeded = errors.New("risk: per-symbol position limit exceeded")

	// ErrExposureLimitExceeded is returned when an order would push the
	// aggregate absolute exposure across all symbols beyond the maximum.
	ErrExposureLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limiter checks orders against position limits. A zero-valued cap disables
// that check.
type Limiter struct {
	// MaxPerSymbol is the maximum absolute position in any single symbol.
	MaxPerSymbol int64

	// MaxTotal is the maximum aggregate absolute exposure across symbols.
	MaxTotal int64
}

// NewLimiter creates a limiter with the given per-symbol and aggregate caps.
func NewLimiter(maxPerSymbol, maxTotal int64) *Limiter {
	return &Limiter{MaxPerSymbol: maxPerSymbol, MaxTotal: maxTotal}
}

// Check validates whether an order respects position limits.
//
//   - symbol: instrument being traded
//   - delta: signed position change (+buy / −sell quantity)
//   - held: current positions per symbol for this user
//
// Returns nil if the order is within limits, or an error naming the
// violated limit.
func (l *Limiter) Check(symbol string, delta int64, held map[string]int64) error {
	newPosition := held[symbol] + delta

	if l.MaxPerSymbol > 0 && abs(newPosition) > l.MaxPerSymbol {
		return ErrSymbolLimitExceeded
	}

	if l.MaxTotal > 0 {
		total := abs(newPosition)
		for sym, qty := range held {
			if sym == symbol {
				continue // already counted via newPosition above
			}
			total += abs(qty)
		}
		if total > l.MaxTotal {
			return ErrExposureLimitExceeded
		}
	}

	return nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
