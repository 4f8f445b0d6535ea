package domain

import "time"

// SignalState carries the structural and momentum readings the entry
// subsystem maintains on its reference timeframe. The exit engine consumes
// these fields; it never computes them. A nil state means the entry
// subsystem has nothing fresh for the symbol, and signal-driven rules
// skip themselves.
type SignalState struct {
	Symbol    string
	Timeframe string // Reference timeframe label (e.g., "3m")

	StructureBroken bool // Confirmed break-of-structure against the position
	BarsSinceHigh   int  // Bars since the premium made a new favorable extreme

	TimeBelowEntry time.Duration // Cumulative time spent below entry price
	RangeRatio     float64       // Recent range-of-movement / reference range

	UpdatedAt time.Time
}
