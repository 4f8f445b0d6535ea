package ports

import (
	"context"
	"time"

	"optionsSentry/internal/domain"
)

// ExitEvent describes a completed exit for the notification channel.
// PnLPct must be the exact value the dispatcher computed for the exit
// reason string; the two figures are asserted equal in tests.
type ExitEvent struct {
	PositionID int64
	Symbol     string
	Class      domain.InstrumentClass
	EntryPrice float64
	ExitPrice  float64
	Quantity   int
	PnL        float64
	PnLPct     float64
	Reason     string
	Timestamp  time.Time
}

// Notifier delivers exit events to an external channel (chat, log, queue).
// Delivery failures must not block or fail the exit itself.
type Notifier interface {
	NotifyExit(ctx context.Context, ev ExitEvent) error
}
