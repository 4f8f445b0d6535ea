package domain

import (
	"fmt"
	"time"
)

// TimeOfDay is a clock time in the exchange timezone, used for session
// boundaries and time-of-day threshold windows.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return t, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return t, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// MinuteOfDay returns minutes since local midnight.
func (t TimeOfDay) MinuteOfDay() int {
	return t.Hour*60 + t.Minute
}

// Reached reports whether now (interpreted in loc) is at or past t.
func (t TimeOfDay) Reached(now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	return local.Hour()*60+local.Minute() >= t.MinuteOfDay()
}

// Contains reports whether now falls in the half-open window [t, end).
func (t TimeOfDay) Contains(end TimeOfDay, now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	return m >= t.MinuteOfDay() && m < end.MinuteOfDay()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
