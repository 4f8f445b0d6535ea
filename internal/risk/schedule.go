package risk

import (
	"fmt"
	"math"
	"time"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

// TrailingSchedule maps peak profit percentage to the drawdown the position
// is allowed to give back before it is closed. The curve decreases
// monotonically: the higher the peak, the tighter the allowance, decaying
// from CeilingPct at activation toward FloorPct.
type TrailingSchedule struct {
	ActivationPct float64 // Schedule is inactive below this peak
	FloorPct      float64
	CeilingPct    float64
	DecayRate     float64
	ClassFloors   map[domain.InstrumentClass]float64 // Optional tighter floor per class
}

// Active reports whether the schedule applies at the given peak. Below
// activation the schedule must not be evaluated at all; trailing a position
// that has never been meaningfully in profit would lock in losses.
func (s TrailingSchedule) Active(peakPct float64) bool {
	return !math.IsNaN(peakPct) && peakPct >= s.ActivationPct
}

// AllowedDrawdown returns the give-back allowance at the given peak.
// It reports ErrScheduleUnavailable for missing or non-numeric input
// rather than silently returning zero; callers substitute a fixed
// percentage threshold in that case.
func (s TrailingSchedule) AllowedDrawdown(class domain.InstrumentClass, peakPct float64) (float64, error) {
	if math.IsNaN(peakPct) || math.IsInf(peakPct, 0) {
		return 0, fmt.Errorf("peak profit %v: %w", peakPct, ports.ErrScheduleUnavailable)
	}
	if !s.Active(peakPct) {
		return 0, fmt.Errorf("peak %.2f below activation %.2f: %w", peakPct, s.ActivationPct, ports.ErrScheduleUnavailable)
	}

	floor := s.FloorPct
	if cf, ok := s.ClassFloors[class]; ok {
		floor = cf
	}

	allowed := floor + (s.CeilingPct-floor)*math.Exp(-s.DecayRate*(peakPct-s.ActivationPct))
	if allowed < floor {
		allowed = floor
	}
	return allowed, nil
}

// LossSchedule maps current loss depth to the loss the position is allowed
// to carry before the reverse dynamic stop closes it. The allowance
// tightens as losses deepen, tightens further per minute spent below
// entry, and tightens again when the recent range of movement is below the
// reference value (a dead position, not just a momentarily underwater one).
type LossSchedule struct {
	BasePct           float64 // Allowance at zero depth
	FloorPct          float64 // Allowance never tightens below this
	DecayRate         float64
	TimePenaltyPerMin float64
	VolatilityRef     float64
	VolatilityPenalty float64
}

// AllowedLoss returns the loss allowance for the given depth, time spent
// below entry, and volatility ratio. lossPct is a positive magnitude.
// Missing or non-numeric inputs yield ErrScheduleUnavailable.
func (s LossSchedule) AllowedLoss(lossPct float64, timeBelowEntry time.Duration, volRatio float64) (float64, error) {
	if math.IsNaN(lossPct) || math.IsInf(lossPct, 0) || lossPct < 0 {
		return 0, fmt.Errorf("loss depth %v: %w", lossPct, ports.ErrScheduleUnavailable)
	}
	if math.IsNaN(volRatio) || volRatio < 0 {
		return 0, fmt.Errorf("volatility ratio %v: %w", volRatio, ports.ErrScheduleUnavailable)
	}
	if timeBelowEntry < 0 {
		return 0, fmt.Errorf("time below entry %v: %w", timeBelowEntry, ports.ErrScheduleUnavailable)
	}

	allowed := s.FloorPct + (s.BasePct-s.FloorPct)*math.Exp(-s.DecayRate*lossPct)
	allowed -= s.TimePenaltyPerMin * timeBelowEntry.Minutes()
	if volRatio < s.VolatilityRef {
		allowed -= s.VolatilityPenalty
	}
	if allowed < s.FloorPct {
		allowed = s.FloorPct
	}
	return allowed, nil
}

// BreakevenLock is the one-shot calculator that clamps the downside floor
// to the entry price once peak profit has crossed LockGainPct. The lock is
// recorded on the position and never released while it stays open.
type BreakevenLock struct {
	LockGainPct float64
}

// ShouldLock reports whether the given peak profit percentage arms the lock.
func (b BreakevenLock) ShouldLock(peakPct float64) bool {
	return !math.IsNaN(peakPct) && peakPct >= b.LockGainPct
}
