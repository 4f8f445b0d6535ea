package rules

import (
	"fmt"

	"optionsSentry/internal/domain"
)

// structureBreak exits when the entry subsystem reports a confirmed
// break-of-structure against the position on its reference timeframe,
// irrespective of current PnL. The thesis that justified the entry is
// gone; PnL is not an argument for staying.
type structureBreak struct{}

func (r *structureBreak) Name() string { return "structure_break" }

func (r *structureBreak) Evaluate(in Input) Result {
	if in.Signal == nil {
		return unavailable("no signal state for symbol")
	}
	if in.Signal.StructureBroken {
		return exitWith(domain.ReasonStructureBreak,
			fmt.Sprintf("break of structure confirmed on %s", in.Signal.Timeframe))
	}
	return hold()
}

// premiumStall exits when the premium has not made a new favorable extreme
// within the class-specific number of recent bars. An option that stops
// making highs bleeds theta while going nowhere.
type premiumStall struct {
	bars map[domain.InstrumentClass]int
}

func (r *premiumStall) Name() string { return "premium_stall" }

func (r *premiumStall) Evaluate(in Input) Result {
	if in.Signal == nil {
		return unavailable("no signal state for symbol")
	}
	limit, ok := r.bars[in.Pos.Class]
	if !ok || limit <= 0 {
		return unavailable(fmt.Sprintf("no stall bar count configured for class %s", in.Pos.Class))
	}
	if in.Signal.BarsSinceHigh >= limit {
		return exitWith(domain.ReasonPremiumStall,
			fmt.Sprintf("no new high for %d bars on %s (limit %d)", in.Signal.BarsSinceHigh, in.Signal.Timeframe, limit))
	}
	return hold()
}
