package domain

import "time"

// TradingDay returns the canonical day identifier for t in the exchange
// timezone. All day-scoped counters are keyed by this value.
func TradingDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// SameTradingDay reports whether a and b fall on the same trading day in
// the exchange timezone.
func SameTradingDay(a, b time.Time, loc *time.Location) bool {
	return TradingDay(a, loc) == TradingDay(b, loc)
}
