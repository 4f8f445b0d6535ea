package risk

import (
	"context"
	"fmt"
	"time"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

// ScopeGlobal is the account-wide counter scope. Instrument classes are
// their own scopes.
const ScopeGlobal = "GLOBAL"

// Machine-checkable reason codes for blocked trading. Operators use these
// to tell a policy limit from a system fault.
const (
	CodeClassLossCap     = "CLASS_LOSS_CAP"
	CodeGlobalLossCap    = "GLOBAL_LOSS_CAP"
	CodeClassProfitGoal  = "CLASS_PROFIT_TARGET"
	CodeGlobalProfitGoal = "GLOBAL_PROFIT_TARGET"
	CodeClassTradeCap    = "CLASS_TRADE_CAP"
	CodeGlobalTradeCap   = "GLOBAL_TRADE_CAP"
	CodeStoreFault       = "COUNTER_STORE_FAULT"
)

// Limits are the governor's daily ceilings. Loss and profit values are
// positive rupee magnitudes.
type Limits struct {
	ClassLossCap       float64
	GlobalLossCap      float64
	ClassProfitTarget  float64
	GlobalProfitTarget float64
	ClassTradeCap      int64
	GlobalTradeCap     int64
}

// Decision is the outcome of a CanTrade check. When trading is blocked,
// Code identifies the first violated ceiling and Value/Limit carry the
// numbers that triggered it.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
	Value   float64
	Limit   float64
}

func blocked(code, reason string, value, limit float64) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason, Value: value, Limit: limit}
}

// Governor enforces day-scoped trading limits per instrument class and
// globally. Counters live in an injected CounterStore keyed by the
// canonical trading day; the store expires entries after the day ends, so
// a new day starts clean without an explicit reset.
type Governor struct {
	store  ports.CounterStore
	limits Limits
	loc    *time.Location
	logger ports.Logger
	now    func() time.Time
}

// NewGovernor creates a daily limit governor.
func NewGovernor(store ports.CounterStore, limits Limits, loc *time.Location, logger ports.Logger) (*Governor, error) {
	if store == nil || loc == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Governor")
	}
	return &Governor{store: store, limits: limits, loc: loc, logger: logger, now: time.Now}, nil
}

// SetClock overrides the governor's time source. Used by tests to cross
// day boundaries without sleeping.
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

// Day returns the canonical trading-day key for the governor's current time.
func (g *Governor) Day() string {
	return domain.TradingDay(g.now(), g.loc)
}

// CanTrade checks every ceiling in a fixed order and reports the first
// violation: class loss, global loss, class profit target, global profit
// target, class trade count, global trade count. A reached profit target
// halts trading for the day by design.
//
// A counter store fault blocks trading (fail-closed) and is reported with
// its own code so operators can distinguish it from a policy limit.
func (g *Governor) CanTrade(ctx context.Context, class domain.InstrumentClass) Decision {
	day := g.Day()

	classTotals, err := g.store.Totals(ctx, day, string(class))
	if err != nil {
		g.logger.Error(ctx, err, "Governor: counter store read failed", map[string]interface{}{"scope": string(class)})
		return blocked(CodeStoreFault, "counter store unavailable", 0, 0)
	}
	globalTotals, err := g.store.Totals(ctx, day, ScopeGlobal)
	if err != nil {
		g.logger.Error(ctx, err, "Governor: counter store read failed", map[string]interface{}{"scope": ScopeGlobal})
		return blocked(CodeStoreFault, "counter store unavailable", 0, 0)
	}

	if g.limits.ClassLossCap > 0 && classTotals.Loss >= g.limits.ClassLossCap {
		return blocked(CodeClassLossCap,
			fmt.Sprintf("daily loss cap reached for %s: lost %.2f of %.2f", class, classTotals.Loss, g.limits.ClassLossCap),
			classTotals.Loss, g.limits.ClassLossCap)
	}
	if g.limits.GlobalLossCap > 0 && globalTotals.Loss >= g.limits.GlobalLossCap {
		return blocked(CodeGlobalLossCap,
			fmt.Sprintf("global daily loss cap reached: lost %.2f of %.2f", globalTotals.Loss, g.limits.GlobalLossCap),
			globalTotals.Loss, g.limits.GlobalLossCap)
	}
	if g.limits.ClassProfitTarget > 0 && classTotals.Profit >= g.limits.ClassProfitTarget {
		return blocked(CodeClassProfitGoal,
			fmt.Sprintf("profit target reached for %s: booked %.2f of %.2f, stopping while ahead", class, classTotals.Profit, g.limits.ClassProfitTarget),
			classTotals.Profit, g.limits.ClassProfitTarget)
	}
	if g.limits.GlobalProfitTarget > 0 && globalTotals.Profit >= g.limits.GlobalProfitTarget {
		return blocked(CodeGlobalProfitGoal,
			fmt.Sprintf("profit target reached: booked %.2f of %.2f, stopping while ahead", globalTotals.Profit, g.limits.GlobalProfitTarget),
			globalTotals.Profit, g.limits.GlobalProfitTarget)
	}
	if g.limits.ClassTradeCap > 0 && classTotals.Trades >= g.limits.ClassTradeCap {
		return blocked(CodeClassTradeCap,
			fmt.Sprintf("daily trade cap reached for %s: %d of %d", class, classTotals.Trades, g.limits.ClassTradeCap),
			float64(classTotals.Trades), float64(g.limits.ClassTradeCap))
	}
	if g.limits.GlobalTradeCap > 0 && globalTotals.Trades >= g.limits.GlobalTradeCap {
		return blocked(CodeGlobalTradeCap,
			fmt.Sprintf("global daily trade cap reached: %d of %d", globalTotals.Trades, g.limits.GlobalTradeCap),
			float64(globalTotals.Trades), float64(g.limits.GlobalTradeCap))
	}

	return Decision{Allowed: true}
}

// RecordRealized books a realized PnL into the class and global scopes.
// Profits and losses are accumulated separately so a profitable day with
// churn still hits its loss cap.
func (g *Governor) RecordRealized(ctx context.Context, class domain.InstrumentClass, pnl float64) error {
	day := g.Day()
	if pnl >= 0 {
		if err := g.store.IncrProfit(ctx, day, string(class), pnl); err != nil {
			return err
		}
		return g.store.IncrProfit(ctx, day, ScopeGlobal, pnl)
	}
	loss := -pnl
	if err := g.store.IncrLoss(ctx, day, string(class), loss); err != nil {
		return err
	}
	return g.store.IncrLoss(ctx, day, ScopeGlobal, loss)
}

// RecordTrade counts one completed entry against the class and global
// trade ceilings.
func (g *Governor) RecordTrade(ctx context.Context, class domain.InstrumentClass) error {
	day := g.Day()
	if err := g.store.IncrTrades(ctx, day, string(class)); err != nil {
		return err
	}
	return g.store.IncrTrades(ctx, day, ScopeGlobal)
}

// Reset clears the counters for a trading day. The store's own TTL makes
// this unnecessary in normal operation; it exists for operator use.
func (g *Governor) Reset(ctx context.Context, day string) error {
	return g.store.Reset(ctx, day)
}
