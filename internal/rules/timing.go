package rules

import (
	"fmt"
	"time"

	"optionsSentry/internal/domain"
)

// timeStop exits once the position has been held past its trade-class
// ceiling, regardless of PnL. Scalps go stale in minutes; trend holds get
// the longer leash.
type timeStop struct {
	scalpMax time.Duration
	trendMax time.Duration
}

func (r *timeStop) Name() string { return "time_stop" }

func (r *timeStop) ceiling(class domain.TradeClass) time.Duration {
	if class == domain.TradeClassTrend {
		return r.trendMax
	}
	return r.scalpMax
}

func (r *timeStop) Evaluate(in Input) Result {
	limit := r.ceiling(in.Pos.TradeClass)
	if limit <= 0 {
		return unavailable(fmt.Sprintf("no time ceiling for trade class %s", in.Pos.TradeClass))
	}
	age := in.Pos.Age(in.Now)
	if age >= limit {
		return exitWith(domain.ReasonTimeStop,
			fmt.Sprintf("held %s >= %s ceiling for %s trade", age.Round(time.Second), limit, in.Pos.TradeClass))
	}
	return hold()
}

// sessionFlatten is the unconditional end-of-session exit. It is the only
// rule with no PnL or structural precondition and deliberately runs last,
// so any reason-bearing exit in the same cycle wins over it.
type sessionFlatten struct {
	at  domain.TimeOfDay
	loc *time.Location
}

func (r *sessionFlatten) Name() string { return "session_flatten" }

func (r *sessionFlatten) Evaluate(in Input) Result {
	if r.at.Reached(in.Now, r.loc) {
		return exitWith(domain.ReasonSessionFlatten,
			fmt.Sprintf("session flatten time %s reached", r.at))
	}
	return hold()
}
