// Package valuation maintains the per-position mark-to-market snapshot
// cache the exit chain reads from. Writes come from the tick stream and
// from periodic broker reconciliation; reads that find nothing fresh are
// misses, and callers fall back to a broker quote or skip the cycle.
package valuation

import (
	"time"

	"sync"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/metrics"
)

// Cache is the read-through valuation snapshot store. Snapshots expire
// after a TTL so a dead feed surfaces as staleness instead of silently
// freezing prices.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]domain.ValuationSnapshot
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Cache whose snapshots go stale after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[int64]domain.ValuationSnapshot),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the cache's time source for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the snapshot for a position. ok is false on a miss or when
// the snapshot is past its TTL; the caller must then fall back to a broker
// read or skip the cycle for that position, never assume zero PnL.
func (c *Cache) Get(positionID int64) (domain.ValuationSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.entries[positionID]
	now := c.now()
	c.mu.RUnlock()

	if !ok || snap.IsStale(c.ttl, now) {
		metrics.CacheMisses.Inc()
		return domain.ValuationSnapshot{}, false
	}
	metrics.CacheHits.Inc()
	return snap, true
}

// Update recomputes the position's snapshot from a new price. The
// high-water-mark comparison happens under the cache lock and only ever
// raises the mark; a lower PnL updates price and PnL but leaves the peak
// untouched.
func (c *Cache) Update(pos *domain.Position, price float64, ts time.Time) domain.ValuationSnapshot {
	pnl := (price - pos.EntryPrice) * float64(pos.Quantity)
	pct := domain.PnLPercent(pnl, pos.EntryCost)

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.entries[pos.ID]
	if !ok {
		// New position: seed the peak from the committed mark so a
		// restart does not forget profit already reached.
		snap = domain.ValuationSnapshot{
			PositionID:   pos.ID,
			HighWaterPct: pos.PeakPct(),
		}
	}

	snap.Price = price
	snap.PnL = pnl
	snap.PnLPct = pct
	snap.UpdatedAt = ts
	if pnl > snap.HighWaterPnL {
		snap.HighWaterPnL = pnl
	}
	if pct > snap.HighWaterPct {
		snap.HighWaterPct = pct
	}

	c.entries[pos.ID] = snap
	return snap
}

// Reconcile overwrites cached prices with broker-confirmed marks to correct
// drift from missed ticks. Positions absent from the broker map keep their
// current snapshot and age toward staleness.
func (c *Cache) Reconcile(positions []*domain.Position, marks map[string]float64, ts time.Time) {
	for _, pos := range positions {
		price, ok := marks[pos.Symbol]
		if !ok {
			continue
		}
		c.Update(pos, price, ts)
	}
}

// Invalidate drops the snapshot for a position. Called after an exit so a
// recycled id can never read the previous trade's peak.
func (c *Cache) Invalidate(positionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, positionID)
}

// Len reports the number of cached snapshots, stale or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
