package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsSentry/internal/adapters/logger"
	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

// fakeBroker scripts PlaceCloseOrder outcomes and records every request.
type fakeBroker struct {
	mu       sync.Mutex
	requests []ports.CloseOrderRequest
	failures int   // Transient failures to serve before succeeding
	reject   bool  // Serve a terminal rejection instead
	fill     float64
}

func (b *fakeBroker) PlaceCloseOrder(_ context.Context, req ports.CloseOrderRequest) (*ports.CloseOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.reject {
		return nil, fmt.Errorf("margin check failed: %w", ports.ErrOrderRejected)
	}
	if b.failures > 0 {
		b.failures--
		return nil, fmt.Errorf("gateway timeout: %w", ports.ErrBrokerUnavailable)
	}
	return &ports.CloseOrderResult{OrderID: "ORD-1", FillPrice: b.fill}, nil
}

func (b *fakeBroker) FetchPositions(context.Context) ([]ports.BrokerPosition, error) { return nil, nil }
func (b *fakeBroker) FetchQuote(context.Context, string) (float64, error)           { return 0, ports.ErrNotFound }

func (b *fakeBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// fakeRepo keeps positions in memory and records status transitions.
type fakeRepo struct {
	mu       sync.Mutex
	statuses []domain.PositionStatus
}

func (r *fakeRepo) Create(_ context.Context, pos *domain.Position) (int64, error) { return pos.ID, nil }
func (r *fakeRepo) Update(_ context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, pos.Record().Status)
	return nil
}
func (r *fakeRepo) FindByID(context.Context, int64) (*domain.Position, error)      { return nil, nil }
func (r *fakeRepo) FindActive(context.Context) ([]*domain.Position, error)         { return nil, nil }
func (r *fakeRepo) FindClosedSince(context.Context, time.Time) ([]*domain.Position, error) {
	return nil, nil
}
func (r *fakeRepo) FindAll(context.Context, int) ([]*domain.Position, error) { return nil, nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []ports.ExitEvent
}

func (n *fakeNotifier) NotifyExit(_ context.Context, ev ports.ExitEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func testDispatcher(t *testing.T, broker *fakeBroker, repo *fakeRepo, notifier *fakeNotifier) *Dispatcher {
	t.Helper()
	d, err := New(broker, repo, notifier, logger.NewStdLogger(logger.LevelError), Options{
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	return d
}

func dispatchPosition() *domain.Position {
	return &domain.Position{
		ID:         42,
		Symbol:     "BANKNIFTY24SEP52000CE",
		Class:      domain.ClassBankNifty,
		EntryPrice: 200,
		Quantity:   30,
		EntryCost:  6000,
		EntryTime:  time.Now().Add(-10 * time.Minute),
		Status:     domain.StatusActive,
	}
}

func TestDispatchClosesPosition(t *testing.T) {
	broker := &fakeBroker{fill: 230}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	d := testDispatcher(t, broker, repo, notifier)
	pos := dispatchPosition()

	err := d.Dispatch(context.Background(), pos, domain.ReasonTrailingDrawdown, "peak=18.00% drop=9.00% allowed=8.50%")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusExited, pos.Status)
	assert.Equal(t, 230.0, pos.ExitPrice)
	assert.Equal(t, 900.0, pos.RealizedPnL) // (230-200)*30
	assert.Equal(t, 1, broker.orderCount())
	assert.Equal(t, []domain.PositionStatus{domain.StatusExiting, domain.StatusExited}, repo.statuses)
}

func TestDispatchReasonAndEventAgreeOnPercent(t *testing.T) {
	broker := &fakeBroker{fill: 230}
	notifier := &fakeNotifier{}
	d := testDispatcher(t, broker, &fakeRepo{}, notifier)
	pos := dispatchPosition()

	require.NoError(t, d.Dispatch(context.Background(), pos, domain.ReasonTrailingDrawdown, "detail"))
	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]

	// The percentage embedded in the exit reason and the one in the
	// notification event come from one computation and one formatting.
	assert.Equal(t, 15.0, ev.PnLPct)
	formatted := fmt.Sprintf("pnl %.2f%%", ev.PnLPct)
	assert.True(t, strings.Contains(string(pos.ExitReason), formatted),
		"reason %q must embed %q", pos.ExitReason, formatted)
	assert.Equal(t, string(pos.ExitReason), ev.Reason)
}

func TestDispatchIsIdempotentUnderRacingTriggers(t *testing.T) {
	broker := &fakeBroker{fill: 210}
	d := testDispatcher(t, broker, &fakeRepo{}, &fakeNotifier{})
	pos := dispatchPosition()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Dispatch(context.Background(), pos, domain.ReasonTimeStop, "held too long")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, broker.orderCount(), "racing triggers must place exactly one order")
	for i, err := range errs {
		// A loser either saw the held claim or, having started after the
		// winner finished, the terminal status. Both are clean no-ops.
		if err != nil {
			assert.ErrorIs(t, err, ports.ErrClaimHeld, "goroutine %d", i)
		}
	}
	assert.Equal(t, domain.StatusExited, pos.Status)
}

func TestDispatchSecondCallAfterExitIsNoOp(t *testing.T) {
	broker := &fakeBroker{fill: 210}
	d := testDispatcher(t, broker, &fakeRepo{}, &fakeNotifier{})
	pos := dispatchPosition()

	require.NoError(t, d.Dispatch(context.Background(), pos, domain.ReasonTimeStop, "held too long"))
	require.NoError(t, d.Dispatch(context.Background(), pos, domain.ReasonSessionFlatten, "cutoff"))

	assert.Equal(t, 1, broker.orderCount())
	assert.Contains(t, string(pos.ExitReason), string(domain.ReasonTimeStop), "first exit keeps its reason")
}

func TestDispatchRetriesReuseClientOrderID(t *testing.T) {
	broker := &fakeBroker{fill: 210, failures: 2}
	d := testDispatcher(t, broker, &fakeRepo{}, &fakeNotifier{})
	pos := dispatchPosition()

	require.NoError(t, d.Dispatch(context.Background(), pos, domain.ReasonDynamicStop, "loss=16.00% allowed=15.00%"))

	require.Equal(t, 3, broker.orderCount())
	first := broker.requests[0].ClientOrderID
	require.NotEmpty(t, first)
	for _, req := range broker.requests[1:] {
		assert.Equal(t, first, req.ClientOrderID, "retries must reuse the idempotency key")
	}
}

func TestDispatchRevertsOnExhaustion(t *testing.T) {
	broker := &fakeBroker{fill: 210, failures: 10}
	repo := &fakeRepo{}
	d := testDispatcher(t, broker, repo, &fakeNotifier{})
	pos := dispatchPosition()

	err := d.Dispatch(context.Background(), pos, domain.ReasonDynamicStop, "loss=16.00%")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderFailed)

	// The trigger is not lost: the position is active again for the next
	// monitor cycle to re-queue.
	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Equal(t, 3, broker.orderCount())
	assert.Equal(t, []domain.PositionStatus{domain.StatusExiting, domain.StatusActive}, repo.statuses)
}

func TestDispatchRevertsOnRejection(t *testing.T) {
	broker := &fakeBroker{reject: true}
	d := testDispatcher(t, broker, &fakeRepo{}, &fakeNotifier{})
	pos := dispatchPosition()

	err := d.Dispatch(context.Background(), pos, domain.ReasonHardCapitalStop, "loss breach")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)
	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Equal(t, 1, broker.orderCount(), "rejection is terminal, no retry")
}

func TestDispatchTerminalPositionNoOp(t *testing.T) {
	broker := &fakeBroker{fill: 210}
	d := testDispatcher(t, broker, &fakeRepo{}, &fakeNotifier{})
	pos := dispatchPosition()
	pos.Status = domain.StatusExited

	require.NoError(t, d.Dispatch(context.Background(), pos, domain.ReasonManual, "operator"))
	assert.Zero(t, broker.orderCount())
}
