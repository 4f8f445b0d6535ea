// Package dispatch turns an exit decision into a broker close order with
// idempotency and bounded retry. A triggered-but-unexecuted exit is never
// lost: on retry exhaustion the position returns to active and the monitor
// re-queues it on the next cycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/metrics"
	"optionsSentry/internal/ports"
)

// Options bound the dispatcher's retry behavior.
type Options struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// Dispatcher executes exit decisions. OnExit, when set, runs after a
// position has durably transitioned to exited; the app layer uses it to
// book realized PnL into the governor and ledger and to drop the position
// from the working set.
type Dispatcher struct {
	broker   ports.BrokerClient
	repo     ports.PositionRepository
	notifier ports.Notifier
	logger   ports.Logger
	opts     Options
	claims   *claimRegistry

	OnExit func(pos *domain.Position, ev ports.ExitEvent)
}

// New creates a Dispatcher. The notifier may be nil.
func New(broker ports.BrokerClient, repo ports.PositionRepository, notifier ports.Notifier, logger ports.Logger, opts Options) (*Dispatcher, error) {
	if broker == nil || repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Dispatcher")
	}
	if opts.MaxAttempts <= 0 {
		return nil, fmt.Errorf("dispatcher MaxAttempts must be positive")
	}
	return &Dispatcher{
		broker:   broker,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		claims:   newClaimRegistry(),
	}, nil
}

// Dispatch closes the position for the given reason and detail. It is
// idempotent per position: a second trigger while the claim is held
// observes ErrClaimHeld and no-ops. On broker rejection or retry
// exhaustion the position is reverted to active and the error surfaces to
// the caller for re-queue.
func (d *Dispatcher) Dispatch(ctx context.Context, pos *domain.Position, reason domain.ExitReason, detail string) error {
	op := "dispatch"

	if !d.claims.TryClaim(pos.ID) {
		d.logger.Debug(ctx, op+": claim already held, skipping", map[string]interface{}{"positionID": pos.ID})
		return fmt.Errorf("position %d: %w", pos.ID, ports.ErrClaimHeld)
	}
	defer d.claims.Release(pos.ID)

	if pos.IsTerminal() {
		// The racing trigger lost to a dispatch that already finished.
		return nil
	}

	pos.SetStatus(domain.StatusExiting)
	if err := d.repo.Update(ctx, pos); err != nil {
		pos.SetStatus(domain.StatusActive)
		return fmt.Errorf("%s: mark exiting: %w", op, err)
	}

	result, err := d.placeWithRetry(ctx, pos, reason, detail)
	if err != nil {
		// Revert so the monitor re-queues this exit next cycle instead
		// of dropping it.
		metrics.DispatchFailures.Inc()
		pos.SetStatus(domain.StatusActive)
		if uerr := d.repo.Update(ctx, pos); uerr != nil {
			d.logger.Error(ctx, uerr, op+": failed to revert position to active after failed close", map[string]interface{}{"positionID": pos.ID})
		}
		return err
	}

	// Compute the realized figures once; the exit reason string and the
	// notification event must carry the exact same percentage.
	pnl := (result.FillPrice - pos.EntryPrice) * float64(pos.Quantity)
	pct := domain.PnLPercent(pnl, pos.EntryCost)
	now := time.Now().UTC()

	exitReason := domain.ExitReason(fmt.Sprintf("%s (%s, pnl %.2f%%)", reason, detail, pct))
	pos.MarkExited(result.FillPrice, now, pnl, exitReason)

	if err := d.repo.Update(ctx, pos); err != nil {
		// The broker fill is real even if persistence failed; keep the
		// in-memory transition and surface the error loudly.
		d.logger.Error(ctx, err, op+": failed to persist exited position", map[string]interface{}{"positionID": pos.ID})
	}

	metrics.ExitsDispatched.WithLabelValues(string(reason)).Inc()
	d.logger.Info(ctx, op+": position closed", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"fillPrice":  result.FillPrice,
		"pnl":        pnl,
		"pnlPct":     pct,
		"reason":     string(exitReason),
	})

	ev := ports.ExitEvent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Class:      pos.Class,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  result.FillPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPct:     pct,
		Reason:     string(exitReason),
		Timestamp:  now,
	}
	if d.notifier != nil {
		if nerr := d.notifier.NotifyExit(ctx, ev); nerr != nil {
			d.logger.Warn(ctx, op+": exit notification failed", map[string]interface{}{"positionID": pos.ID, "error": nerr.Error()})
		}
	}
	if d.OnExit != nil {
		d.OnExit(pos, ev)
	}

	return nil
}

// placeWithRetry submits the close order, retrying transient broker
// failures with exponential backoff up to the attempt bound. The same
// client order id is reused across attempts so the broker can collapse a
// retry of an order it already accepted.
func (d *Dispatcher) placeWithRetry(ctx context.Context, pos *domain.Position, reason domain.ExitReason, detail string) (*ports.CloseOrderResult, error) {
	req := ports.CloseOrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		Reason:        fmt.Sprintf("%s: %s", reason, detail),
	}

	b := &backoff.Backoff{
		Min:    d.opts.BackoffMin,
		Max:    d.opts.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		result, err := d.broker.PlaceCloseOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ports.ErrOrderRejected) {
			// Rejection is terminal for this attempt cycle; the monitor
			// re-queues rather than hammering a bad order.
			return nil, fmt.Errorf("close order for position %d rejected: %w", pos.ID, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("close order for position %d: %w", pos.ID, ports.ErrContextCanceled)
		}

		d.logger.Warn(ctx, "dispatch: transient broker failure, retrying", map[string]interface{}{
			"positionID": pos.ID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if attempt < d.opts.MaxAttempts {
			metrics.DispatchRetries.Inc()
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return nil, fmt.Errorf("close order for position %d: %w", pos.ID, ports.ErrContextCanceled)
			}
		}
	}

	return nil, fmt.Errorf("close order for position %d exhausted %d attempts: %w (last: %v)",
		pos.ID, d.opts.MaxAttempts, ports.ErrOrderFailed, lastErr)
}
