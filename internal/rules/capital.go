package rules

import (
	"fmt"
	"math"
	"time"

	"optionsSentry/internal/domain"
)

// hardCapitalStop is the account-protection circuit breaker: it closes the
// position when the unrealized loss in rupee terms reaches the configured
// ceiling, scaled by the time-of-day window. It is independent of every
// percentage-based rule and must never be skipped or reordered.
//
// This rule fails closed: an unreadable valuation is treated as a breach,
// because silently holding an unbounded loss is the one failure mode the
// engine may not have.
type hardCapitalStop struct {
	ceiling float64
	windows []TimeWindowMult
	loc     *time.Location
}

func (r *hardCapitalStop) Name() string { return "hard_capital_stop" }

func (r *hardCapitalStop) multiplier(in Input) float64 {
	for _, w := range r.windows {
		if w.From.Contains(w.To, in.Now, r.loc) {
			return w.Mult
		}
	}
	return 1.0
}

func (r *hardCapitalStop) Evaluate(in Input) Result {
	if math.IsNaN(in.Snap.PnL) || math.IsInf(in.Snap.PnL, 0) {
		return exitWith(domain.ReasonHardCapitalStop,
			fmt.Sprintf("valuation unreadable (pnl=%v), failing closed", in.Snap.PnL))
	}

	mult := r.multiplier(in)
	limit := r.ceiling * mult
	loss := -in.Snap.PnL
	if loss >= limit {
		return exitWith(domain.ReasonHardCapitalStop,
			fmt.Sprintf("loss %.2f >= ceiling %.2f (base %.2f x %.2f)", loss, limit, r.ceiling, mult))
	}
	return hold()
}
