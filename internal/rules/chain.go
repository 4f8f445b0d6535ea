// Package rules implements the exit decision chain: a fixed,
// priority-ordered list of independent predicates over a position and its
// valuation snapshot. Evaluation stops at the first rule that says exit;
// reaching the end means hold.
package rules

import (
	"context"
	"fmt"
	"time"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/metrics"
	"optionsSentry/internal/ports"
	"optionsSentry/internal/risk"
)

// Verdict is a rule's tagged outcome. Unavailable is distinct from Hold:
// it means the rule could not see its inputs, and the chain logs it and
// moves on instead of treating it as a clean pass.
type Verdict int

const (
	Hold Verdict = iota
	Exit
	Unavailable
)

// Result is the outcome of one rule, or of the whole chain.
type Result struct {
	Verdict Verdict
	Reason  domain.ExitReason
	Detail  string // Human-readable numbers behind the decision
}

func hold() Result { return Result{Verdict: Hold} }

func exitWith(reason domain.ExitReason, detail string) Result {
	return Result{Verdict: Exit, Reason: reason, Detail: detail}
}

func unavailable(detail string) Result {
	return Result{Verdict: Unavailable, Detail: detail}
}

// Input is everything a rule may look at for one evaluation. Within one
// monitor cycle every rule sees the same snapshot; no rule re-reads prices.
type Input struct {
	Pos    *domain.Position
	Snap   domain.ValuationSnapshot
	Signal *domain.SignalState // nil when the entry subsystem has nothing fresh
	Now    time.Time
}

// Rule is one predicate in the chain.
type Rule interface {
	Name() string
	Evaluate(in Input) Result
}

// Config assembles the chain's thresholds. The app layer maps the loaded
// rule tables onto this.
type Config struct {
	Trailing         risk.TrailingSchedule
	FallbackDrawdown float64 // Fixed drawdown % when the trailing schedule is unavailable
	Loss             risk.LossSchedule
	FallbackStop     float64 // Fixed loss % stop when the loss schedule is unavailable

	HardStopCeiling float64
	HardStopWindows []TimeWindowMult

	StallBars map[domain.InstrumentClass]int
	ScalpMax  time.Duration
	TrendMax  time.Duration

	FlattenAt domain.TimeOfDay
	Location  *time.Location
}

// TimeWindowMult scales the hard-stop ceiling inside a session window.
type TimeWindowMult struct {
	From domain.TimeOfDay
	To   domain.TimeOfDay
	Mult float64
}

// Chain is the ordered rule list plus its evaluation policy.
type Chain struct {
	rules  []Rule
	logger ports.Logger
}

// NewChain builds the canonical chain. Ordering is part of the contract:
// the capital circuit breaker always runs first and the calendar-driven
// session flatten always runs last, so a reason-bearing exit wins over it.
func NewChain(cfg Config, logger ports.Logger) (*Chain, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing logger for exit chain")
	}
	if cfg.Location == nil {
		return nil, fmt.Errorf("missing location for exit chain")
	}
	if cfg.HardStopCeiling <= 0 {
		return nil, fmt.Errorf("hard stop ceiling must be positive")
	}

	return &Chain{
		logger: logger,
		rules: []Rule{
			&hardCapitalStop{ceiling: cfg.HardStopCeiling, windows: cfg.HardStopWindows, loc: cfg.Location},
			&structureBreak{},
			&premiumStall{bars: cfg.StallBars},
			&timeStop{scalpMax: cfg.ScalpMax, trendMax: cfg.TrendMax},
			&trailingDrawdown{sched: cfg.Trailing, fallback: cfg.FallbackDrawdown},
			&dynamicStop{sched: cfg.Loss, fallback: cfg.FallbackStop},
			&breakevenFloor{},
			&sessionFlatten{at: cfg.FlattenAt, loc: cfg.Location},
		},
	}, nil
}

// Rules exposes the ordered rule list for inspection in tests.
func (c *Chain) Rules() []Rule { return c.rules }

// Evaluate folds over the chain and returns the first Exit, or Hold when
// no rule fires. Unavailable verdicts from rules after the first are
// logged at warning level and skipped; the capital stop itself never
// returns Unavailable (it fails closed on bad input instead).
func (c *Chain) Evaluate(ctx context.Context, in Input) Result {
	metrics.Evaluations.Inc()

	for _, r := range c.rules {
		res := r.Evaluate(in)
		switch res.Verdict {
		case Exit:
			return res
		case Unavailable:
			c.logger.Warn(ctx, "Exit rule skipped: inputs unavailable", map[string]interface{}{
				"rule":       r.Name(),
				"positionID": in.Pos.ID,
				"detail":     res.Detail,
			})
		}
	}
	return hold()
}
