package domain

// InstrumentClass groups option contracts by their underlying index family.
// Daily limits and several exit thresholds are keyed by class.
type InstrumentClass string

const (
	ClassNifty      InstrumentClass = "NIFTY"
	ClassBankNifty  InstrumentClass = "BANKNIFTY"
	ClassFinNifty   InstrumentClass = "FINNIFTY"
	ClassUnassigned InstrumentClass = "UNASSIGNED"
)

// PositionStatus represents the lifecycle state of a position.
// Allowed transitions: pending -> active -> exiting -> exited,
// or active -> cancelled. Exited and cancelled are terminal.
type PositionStatus string

const (
	StatusPending   PositionStatus = "pending"
	StatusActive    PositionStatus = "active"
	StatusExiting   PositionStatus = "exiting"
	StatusExited    PositionStatus = "exited"
	StatusCancelled PositionStatus = "cancelled"
)

// TradeClass is a coarse classification of the trade's intended holding
// period. It selects which time-stop ceiling applies.
type TradeClass string

const (
	TradeClassScalp TradeClass = "scalp"
	TradeClassTrend TradeClass = "trend"
)

// ExitReason identifies which exit rule closed a position.
type ExitReason string

const (
	ReasonHardCapitalStop  ExitReason = "HARD_CAPITAL_STOP"
	ReasonStructureBreak   ExitReason = "STRUCTURE_BREAK"
	ReasonPremiumStall     ExitReason = "PREMIUM_STALL"
	ReasonTimeStop         ExitReason = "TIME_STOP"
	ReasonTrailingDrawdown ExitReason = "TRAILING_DRAWDOWN"
	ReasonDynamicStop      ExitReason = "DYNAMIC_STOP"
	ReasonBreakevenFloor   ExitReason = "BREAKEVEN_FLOOR"
	ReasonSessionFlatten   ExitReason = "SESSION_FLATTEN"
	ReasonManual           ExitReason = "MANUAL"
)

// PnLPercent computes a profit-and-loss percentage of entry cost.
// Every component that reports a percentage for the same event must go
// through this function so displayed and decision figures cannot diverge.
func PnLPercent(pnl, entryCost float64) float64 {
	if entryCost == 0 {
		return 0
	}
	return pnl / entryCost * 100
}
