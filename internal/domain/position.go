package domain

import (
	"fmt"
	"sync"
	"time"
)

// Position represents one long option trade held by the bot. A position is
// created when an entry fills and is retained as history after it closes;
// records are never destroyed.
//
// Once a position is tracked by the monitor it is shared between the loop,
// the feed goroutine, and dispatch workers. The mutable fields (Status, the
// risk metadata, and the exit fields) are guarded by mu and must only be
// changed through the locked methods below; the entry fields never change
// after creation and may be read freely.
type Position struct {
	mu sync.RWMutex

	ID      int64           // Unique identifier (assigned by the repository)
	Symbol  string          // Contract symbol (e.g., "NIFTY24SEP24800CE")
	Class   InstrumentClass // Underlying index family
	LotSize int             // Exchange lot size for the contract

	EntryPrice float64   // Premium paid per unit at entry
	Quantity   int       // Units bought (multiple of LotSize)
	EntryCost  float64   // EntryPrice * Quantity
	EntryTime  time.Time // When the entry filled
	TradeClass TradeClass

	// Risk metadata, mutated by the monitor loop while active.
	StopPrice        float64 // Current effective stop level in premium terms
	TargetPrice      float64 // Informational target from the entry subsystem
	HighWaterMarkPct float64 // Best profit % reached; never decreases while active
	BreakevenLocked  bool    // Set once peak profit crosses the lock threshold

	Status      PositionStatus
	ExitPrice   float64    // Fill price of the close order (0 while open)
	ExitTime    time.Time  // Zero value while open
	ExitReason  ExitReason // Empty while open
	RealizedPnL float64    // Set when the position exits
}

// IsActive reports whether the position is still subject to automated
// evaluation.
func (p *Position) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status == StatusActive
}

// IsTerminal reports whether the position has reached a frozen end state.
func (p *Position) IsTerminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status == StatusExited || p.Status == StatusCancelled
}

// SetStatus transitions the position's lifecycle state.
func (p *Position) SetStatus(s PositionStatus) {
	p.mu.Lock()
	p.Status = s
	p.mu.Unlock()
}

// PeakPct returns the committed high-water-mark.
func (p *Position) PeakPct() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.HighWaterMarkPct
}

// IsBreakevenLocked reports whether the breakeven floor has been armed.
func (p *Position) IsBreakevenLocked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.BreakevenLocked
}

// LockBreakeven arms the breakeven floor, moving the effective stop to the
// entry price. The lock is one-shot; arming twice is harmless.
func (p *Position) LockBreakeven() {
	p.mu.Lock()
	p.BreakevenLocked = true
	p.StopPrice = p.EntryPrice
	p.mu.Unlock()
}

// MarkExited records the close fill and moves the position to exited in a
// single transition, so no reader observes the exit fields half-written.
func (p *Position) MarkExited(fillPrice float64, at time.Time, pnl float64, reason ExitReason) {
	p.mu.Lock()
	p.Status = StatusExited
	p.ExitPrice = fillPrice
	p.ExitTime = at
	p.ExitReason = reason
	p.RealizedPnL = pnl
	p.mu.Unlock()
}

// Age returns how long the position has been held as of now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// CommitHighWaterMark raises the committed high-water-mark to pct. A lower
// value is an invariant violation: the valuation cache only ever raises its
// own mark, so a decrease here indicates data corruption upstream.
// It returns true when the mark was raised.
func (p *Position) CommitHighWaterMark(pct float64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct < p.HighWaterMarkPct {
		return false, fmt.Errorf("high-water-mark decrease for position %d: committed %.4f, offered %.4f", p.ID, p.HighWaterMarkPct, pct)
	}
	if pct == p.HighWaterMarkPct {
		return false, nil
	}
	p.HighWaterMarkPct = pct
	return true, nil
}

// PositionRecord is a point-in-time copy of a position's persisted fields,
// taken under the position's lock so persistence never reads a field while
// another goroutine is writing it.
type PositionRecord struct {
	ID      int64
	Symbol  string
	Class   InstrumentClass
	LotSize int

	EntryPrice float64
	Quantity   int
	EntryCost  float64
	EntryTime  time.Time
	TradeClass TradeClass

	StopPrice        float64
	TargetPrice      float64
	HighWaterMarkPct float64
	BreakevenLocked  bool

	Status      PositionStatus
	ExitPrice   float64
	ExitTime    time.Time
	ExitReason  ExitReason
	RealizedPnL float64
}

// Record returns a consistent copy of the position for persistence.
func (p *Position) Record() PositionRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PositionRecord{
		ID:               p.ID,
		Symbol:           p.Symbol,
		Class:            p.Class,
		LotSize:          p.LotSize,
		EntryPrice:       p.EntryPrice,
		Quantity:         p.Quantity,
		EntryCost:        p.EntryCost,
		EntryTime:        p.EntryTime,
		TradeClass:       p.TradeClass,
		StopPrice:        p.StopPrice,
		TargetPrice:      p.TargetPrice,
		HighWaterMarkPct: p.HighWaterMarkPct,
		BreakevenLocked:  p.BreakevenLocked,
		Status:           p.Status,
		ExitPrice:        p.ExitPrice,
		ExitTime:         p.ExitTime,
		ExitReason:       p.ExitReason,
		RealizedPnL:      p.RealizedPnL,
	}
}
