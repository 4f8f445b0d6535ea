package rules

import (
	"fmt"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/risk"
)

// trailingDrawdown evaluates the upward profit-protection schedule. The
// rule considers itself only once the peak has crossed the schedule's
// activation threshold; below that it holds without consulting the curve,
// since trailing from a 0% peak would lock in losses. If the schedule
// cannot be evaluated, a fixed drawdown percentage substitutes.
type trailingDrawdown struct {
	sched    risk.TrailingSchedule
	fallback float64
}

func (r *trailingDrawdown) Name() string { return "trailing_drawdown" }

func (r *trailingDrawdown) Evaluate(in Input) Result {
	peak := in.Snap.HighWaterPct
	if !r.sched.Active(peak) {
		return hold()
	}

	allowed, err := r.sched.AllowedDrawdown(in.Pos.Class, peak)
	if err != nil {
		allowed = r.fallback
	}

	drop := in.Snap.Drawdown()
	if drop >= allowed {
		return exitWith(domain.ReasonTrailingDrawdown,
			fmt.Sprintf("peak=%.2f%% drop=%.2f%% allowed=%.2f%%", peak, drop, allowed))
	}
	return hold()
}

// dynamicStop evaluates the downward loss-limitation schedule. It only
// applies while the position is underwater; the allowance tightens with
// loss depth, time spent below entry, and a below-reference volatility
// ratio. If the schedule cannot be evaluated the fixed stop percentage
// substitutes.
type dynamicStop struct {
	sched    risk.LossSchedule
	fallback float64
}

func (r *dynamicStop) Name() string { return "dynamic_stop" }

func (r *dynamicStop) Evaluate(in Input) Result {
	if in.Snap.PnLPct >= 0 {
		return hold()
	}
	lossPct := -in.Snap.PnLPct

	var allowed float64
	if in.Signal == nil {
		allowed = r.fallback
	} else {
		a, err := r.sched.AllowedLoss(lossPct, in.Signal.TimeBelowEntry, in.Signal.RangeRatio)
		if err != nil {
			allowed = r.fallback
		} else {
			allowed = a
		}
	}

	if lossPct >= allowed {
		return exitWith(domain.ReasonDynamicStop,
			fmt.Sprintf("loss=%.2f%% allowed=%.2f%%", lossPct, allowed))
	}
	return hold()
}

// breakevenFloor exits a breakeven-locked position the moment it would
// close at a loss. The lock itself is committed by the monitor loop when
// the peak crosses the configured gain threshold.
type breakevenFloor struct{}

func (r *breakevenFloor) Name() string { return "breakeven_floor" }

func (r *breakevenFloor) Evaluate(in Input) Result {
	if in.Pos.IsBreakevenLocked() && in.Snap.PnL < 0 {
		return exitWith(domain.ReasonBreakevenFloor,
			fmt.Sprintf("breakeven locked, price %.2f below entry %.2f", in.Snap.Price, in.Pos.EntryPrice))
	}
	return hold()
}
