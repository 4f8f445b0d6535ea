package monitor

import (
	"time"

	"optionsSentry/internal/domain"
)

// MarketClock answers whether the exchange session is open. Weekends are
// closed; exchange holidays are not modeled here and resolve to an idle
// loop that simply finds no ticks.
type MarketClock struct {
	Open  domain.TimeOfDay
	Close domain.TimeOfDay
	Loc   *time.Location
}

// IsOpen reports whether now falls inside the trading session.
func (c MarketClock) IsOpen(now time.Time) bool {
	local := now.In(c.Loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return c.Open.Contains(c.Close, now, c.Loc)
}
