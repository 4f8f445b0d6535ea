package ports

import (
	"context"

	"optionsSentry/internal/domain"
)

// CloseOrderRequest asks the broker to flatten a position at market.
// ClientOrderID is the idempotency key: retries of the same dispatch reuse
// the same id so the broker can collapse duplicates.
type CloseOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Quantity      int
	Reason        string // Human-readable exit reason, echoed into the order tag
}

// CloseOrderResult reports the broker's fill for a close order.
type CloseOrderResult struct {
	OrderID   string
	FillPrice float64
}

// BrokerPosition is the broker's own view of an open position, used to
// reconcile the valuation cache against missed ticks.
type BrokerPosition struct {
	Symbol    string
	Quantity  int
	LastPrice float64
}

// BrokerClient is the engine's interface to the order/broker transport.
// Implementations must wrap transport failures with the standard errors in
// this package (ErrRateLimited, ErrOrderRejected, ErrBrokerUnavailable).
type BrokerClient interface {
	// PlaceCloseOrder submits a market close order and blocks until the
	// broker acknowledges or rejects it.
	PlaceCloseOrder(ctx context.Context, req CloseOrderRequest) (*CloseOrderResult, error)
	// FetchPositions returns the broker's current open positions.
	FetchPositions(ctx context.Context) ([]BrokerPosition, error)
	// FetchQuote returns the last traded premium for a contract. Used as
	// the fallback price read when the valuation cache misses.
	FetchQuote(ctx context.Context, symbol string) (float64, error)
}

// TickStream delivers last-traded-price updates for subscribed contracts.
// It returns a done channel that closes when the stream terminates and a
// stop channel the caller signals to shut the stream down.
type TickStream interface {
	Subscribe(ctx context.Context, symbols []string, onTick func(domain.Tick), onError func(error)) (done <-chan struct{}, stop chan<- struct{}, err error)
}
