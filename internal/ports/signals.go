package ports

import (
	"context"

	"optionsSentry/internal/domain"
)

// SignalProvider exposes the entry subsystem's latest structural and
// momentum readings for a contract.
// Returns nil, nil when no fresh reading exists; signal-driven exit rules
// treat that as "unavailable" and skip.
type SignalProvider interface {
	Latest(ctx context.Context, symbol string) (*domain.SignalState, error)
}
