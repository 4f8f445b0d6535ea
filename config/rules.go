package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so the rules file can say "45s" or "3m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TrailingRules configures the upward (profit-protection) schedule.
type TrailingRules struct {
	ActivationPct    float64            `yaml:"activation_pct"`     // Trail only once peak profit reaches this
	FloorPct         float64            `yaml:"floor_pct"`          // Tightest allowed drawdown
	CeilingPct       float64            `yaml:"ceiling_pct"`        // Loosest allowed drawdown, at activation
	DecayRate        float64            `yaml:"decay_rate"`         // Exponential decay per profit point above activation
	ClassFloors      map[string]float64 `yaml:"class_floors"`       // Optional per-class floor override
	FallbackDrawdown float64            `yaml:"fallback_drawdown"`  // Fixed drawdown % when the schedule is unavailable
}

// LossRules configures the downward (loss-limitation) schedule.
type LossRules struct {
	BasePct           float64  `yaml:"base_pct"`             // Allowed loss at shallow depth
	FloorPct          float64  `yaml:"floor_pct"`            // Allowed loss never tightens below this
	DecayRate         float64  `yaml:"decay_rate"`           // Exponential tightening per loss point
	TimePenaltyPerMin float64  `yaml:"time_penalty_per_min"` // Linear tightening per minute below entry
	VolatilityRef     float64  `yaml:"volatility_ref"`       // Range ratio below which the position is "dead"
	VolatilityPenalty float64  `yaml:"volatility_penalty"`   // Tightening applied to dead positions
	FallbackStop      float64  `yaml:"fallback_stop"`        // Fixed loss % stop when the schedule is unavailable
}

// HardStopRules configures the account-protection circuit breaker.
type HardStopRules struct {
	CeilingRupees float64         `yaml:"ceiling_rupees"`
	Multipliers   []TimeOfDayMult `yaml:"multipliers"`
}

// TimeOfDayMult scales the hard-stop ceiling inside a session window.
type TimeOfDayMult struct {
	From string  `yaml:"from"` // "HH:MM" in the exchange timezone
	To   string  `yaml:"to"`
	Mult float64 `yaml:"mult"`
}

// DailyLimits are the governor's ceilings. Loss and profit values are
// positive rupee magnitudes.
type DailyLimits struct {
	ClassLossCap       float64 `yaml:"class_loss_cap"`
	GlobalLossCap      float64 `yaml:"global_loss_cap"`
	ClassProfitTarget  float64 `yaml:"class_profit_target"`
	GlobalProfitTarget float64 `yaml:"global_profit_target"`
	ClassTradeCap      int64   `yaml:"class_trade_cap"`
	GlobalTradeCap     int64   `yaml:"global_trade_cap"`
}

// SessionRules give the exchange session in "HH:MM" exchange-local time.
type SessionRules struct {
	Open    string `yaml:"open"`
	Flatten string `yaml:"flatten"` // Unconditional exit time, before close
	Close   string `yaml:"close"`
}

// MonitorRules set the loop cadence per market state.
type MonitorRules struct {
	IdleInterval   Duration `yaml:"idle_interval"`   // Market closed
	FlatInterval   Duration `yaml:"flat_interval"`   // Market open, no positions
	HotInterval    Duration `yaml:"hot_interval"`    // Market open, positions present
	ReconcileEvery int      `yaml:"reconcile_every"` // Broker reconcile every N hot cycles
}

// DispatchRules bound the exit dispatcher's retry behavior.
type DispatchRules struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffMin  Duration `yaml:"backoff_min"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// Rules is the full rule-table file.
type Rules struct {
	Trailing     TrailingRules  `yaml:"trailing"`
	Loss         LossRules      `yaml:"loss"`
	BreakevenPct float64        `yaml:"breakeven_pct"` // Peak profit % that locks the breakeven floor
	HardStop     HardStopRules  `yaml:"hard_stop"`
	StallBars    map[string]int `yaml:"stall_bars"` // Momentum-stall bar count per instrument class
	TimeStops    struct {
		ScalpMax Duration `yaml:"scalp_max"`
		TrendMax Duration `yaml:"trend_max"`
	} `yaml:"time_stops"`
	Daily        DailyLimits   `yaml:"daily"`
	Session      SessionRules  `yaml:"session"`
	Monitor      MonitorRules  `yaml:"monitor"`
	Dispatch     DispatchRules `yaml:"dispatch"`
	SnapshotTTL  Duration      `yaml:"snapshot_ttl"`   // Valuation staleness window
	SignalMaxAge Duration      `yaml:"signal_max_age"` // Entry-subsystem signal freshness window
}

// DefaultRules returns the rule tables used when no file overrides them.
func DefaultRules() *Rules {
	r := &Rules{
		Trailing: TrailingRules{
			ActivationPct:    3.0,
			FloorPct:         2.0,
			CeilingPct:       10.0,
			DecayRate:        0.04,
			FallbackDrawdown: 5.0,
		},
		Loss: LossRules{
			BasePct:           20.0,
			FloorPct:          10.0,
			DecayRate:         0.03,
			TimePenaltyPerMin: 0.05,
			VolatilityRef:     0.6,
			VolatilityPenalty: 2.0,
			FallbackStop:      18.0,
		},
		BreakevenPct: 6.0,
		HardStop: HardStopRules{
			CeilingRupees: 5000,
			Multipliers: []TimeOfDayMult{
				{From: "09:15", To: "10:00", Mult: 0.75}, // Opening volatility, tighter
				{From: "14:30", To: "15:30", Mult: 0.75}, // Late session, protect the day
			},
		},
		StallBars: map[string]int{
			"NIFTY":     6,
			"BANKNIFTY": 4,
			"FINNIFTY":  5,
		},
		Daily: DailyLimits{
			ClassLossCap:       10000,
			GlobalLossCap:      15000,
			ClassProfitTarget:  15000,
			GlobalProfitTarget: 20000,
			ClassTradeCap:      10,
			GlobalTradeCap:     20,
		},
		Session: SessionRules{Open: "09:15", Flatten: "15:10", Close: "15:30"},
		Monitor: MonitorRules{
			IdleInterval:   Duration(5 * time.Minute),
			FlatInterval:   Duration(30 * time.Second),
			HotInterval:    Duration(2 * time.Second),
			ReconcileEvery: 30,
		},
		Dispatch: DispatchRules{
			MaxAttempts: 4,
			BackoffMin:  Duration(500 * time.Millisecond),
			BackoffMax:  Duration(8 * time.Second),
		},
		SnapshotTTL:  Duration(10 * time.Second),
		SignalMaxAge: Duration(3 * time.Minute),
	}
	r.TimeStops.ScalpMax = Duration(20 * time.Minute)
	r.TimeStops.TrendMax = Duration(90 * time.Minute)
	return r
}

// LoadRules reads the YAML rules file at path. A missing file yields the
// defaults; a malformed one is an error.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, err
	}
	return rules, rules.Validate()
}

// Validate checks cross-field consistency of the rule tables.
func (r *Rules) Validate() error {
	if r.Trailing.FloorPct > r.Trailing.CeilingPct {
		return fmt.Errorf("trailing floor %.2f exceeds ceiling %.2f", r.Trailing.FloorPct, r.Trailing.CeilingPct)
	}
	if r.Trailing.ActivationPct < 0 {
		return fmt.Errorf("trailing activation must not be negative")
	}
	if r.Loss.FloorPct > r.Loss.BasePct {
		return fmt.Errorf("loss floor %.2f exceeds base %.2f", r.Loss.FloorPct, r.Loss.BasePct)
	}
	if r.HardStop.CeilingRupees <= 0 {
		return fmt.Errorf("hard stop ceiling must be positive")
	}
	if r.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch max_attempts must be positive")
	}
	if r.SnapshotTTL.Std() <= 0 {
		return fmt.Errorf("snapshot_ttl must be positive")
	}
	if r.SignalMaxAge.Std() <= 0 {
		return fmt.Errorf("signal_max_age must be positive")
	}
	return nil
}
