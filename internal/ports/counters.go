package ports

import "context"

// Counters is a day-scoped aggregate for one scope (an instrument class or
// the global scope). Loss and Profit are positive rupee magnitudes.
type Counters struct {
	Loss   float64
	Profit float64
	Trades int64
}

// CounterStore holds daily counters keyed by (trading day, scope). Entries
// are created lazily on first increment and expire shortly after the
// trading day ends. Increments must be atomic per key.
//
// Only the daily limit governor writes to this store.
type CounterStore interface {
	IncrLoss(ctx context.Context, day, scope string, amount float64) error
	IncrProfit(ctx context.Context, day, scope string, amount float64) error
	IncrTrades(ctx context.Context, day, scope string) error
	// Totals returns the current counters for a scope. A scope with no
	// writes yet returns zero counters, not an error.
	Totals(ctx context.Context, day, scope string) (Counters, error)
	// Reset clears all counters for a trading day.
	Reset(ctx context.Context, day string) error
}
