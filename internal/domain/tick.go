package domain

import "time"

// Tick is a single last-traded-price update from the market data feed.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
