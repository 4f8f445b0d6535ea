package domain

import "time"

// ValuationSnapshot is the live mark-to-market view of one position,
// derived from the latest tick and owned by the valuation cache. The
// position record owns only the committed high-water-mark it has accepted
// from a snapshot.
type ValuationSnapshot struct {
	PositionID   int64
	Price        float64   // Latest premium
	PnL          float64   // Unrealized PnL in rupees
	PnLPct       float64   // PnL as a percentage of entry cost
	HighWaterPnL float64   // Best unrealized PnL seen, in rupees
	HighWaterPct float64   // Best PnL percentage seen; monotonically raised
	UpdatedAt    time.Time // When the snapshot was last refreshed
}

// IsStale reports whether the snapshot has outlived ttl as of now.
// A stale snapshot must be treated as a cache miss by callers.
func (s ValuationSnapshot) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > ttl
}

// Drawdown returns the give-back from the high-water-mark to the current
// profit percentage. It is zero when the position sits at its peak.
func (s ValuationSnapshot) Drawdown() float64 {
	return s.HighWaterPct - s.PnLPct
}
