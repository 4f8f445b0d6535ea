package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsSentry/config"
	"optionsSentry/internal/adapters/logger"
	"optionsSentry/internal/adapters/memcounter"
	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
)

var kolkata = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

type stubRepo struct {
	mu      sync.Mutex
	active  []*domain.Position
	closed  []*domain.Position
	nextID  int64
	updates int
}

func (r *stubRepo) Create(_ context.Context, pos *domain.Position) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	pos.ID = r.nextID
	return r.nextID, nil
}

func (r *stubRepo) Update(context.Context, *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return nil
}

func (r *stubRepo) FindByID(context.Context, int64) (*domain.Position, error) { return nil, nil }
func (r *stubRepo) FindActive(context.Context) ([]*domain.Position, error)   { return r.active, nil }
func (r *stubRepo) FindClosedSince(context.Context, time.Time) ([]*domain.Position, error) {
	return r.closed, nil
}
func (r *stubRepo) FindAll(context.Context, int) ([]*domain.Position, error) { return nil, nil }

type stubBroker struct{ quote float64 }

func (b *stubBroker) PlaceCloseOrder(_ context.Context, req ports.CloseOrderRequest) (*ports.CloseOrderResult, error) {
	return &ports.CloseOrderResult{OrderID: "ORD-1", FillPrice: b.quote}, nil
}
func (b *stubBroker) FetchPositions(context.Context) ([]ports.BrokerPosition, error) {
	return nil, nil
}
func (b *stubBroker) FetchQuote(context.Context, string) (float64, error) { return b.quote, nil }

type stubFeed struct {
	mu         sync.Mutex
	subscribes int
}

func (f *stubFeed) Subscribe(_ context.Context, _ []string, _ func(domain.Tick), _ func(error)) (<-chan struct{}, chan<- struct{}, error) {
	f.mu.Lock()
	f.subscribes++
	f.mu.Unlock()

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()
	return done, stop, nil
}

func newTestEngine(t *testing.T, repo *stubRepo) (*Engine, *stubFeed) {
	t.Helper()
	cfg := &config.Config{
		InitialBalance: 100000,
		Location:       kolkata,
		Rules:          config.DefaultRules(),
	}
	feed := &stubFeed{}
	e, err := New(cfg, Deps{
		Logger:   logger.NewStdLogger(logger.LevelError),
		Broker:   &stubBroker{quote: 20},
		Repo:     repo,
		Counters: memcounter.New(),
		Feed:     feed,
	})
	require.NoError(t, err)
	return e, feed
}

func restoredPosition(status domain.PositionStatus) *domain.Position {
	return &domain.Position{
		ID:         1,
		Symbol:     "NIFTY24SEP24800CE",
		Class:      domain.ClassNifty,
		EntryPrice: 20,
		Quantity:   50,
		EntryCost:  1000,
		EntryTime:  time.Now().Add(-10 * time.Minute),
		TradeClass: domain.TradeClassScalp,
		Status:     status,
	}
}

func TestResyncDebitsRestoredPositions(t *testing.T) {
	pos := restoredPosition(domain.StatusActive)
	repo := &stubRepo{active: []*domain.Position{pos}, nextID: 1}
	e, _ := newTestEngine(t, repo)

	require.NoError(t, e.resync(context.Background()))

	// Restored capital is tied up in the position, not in cash.
	assert.Equal(t, 99000.0, e.Balance())

	// A later exit credits cost plus realized PnL exactly once.
	e.onExit(pos, ports.ExitEvent{PositionID: pos.ID, PnL: 200})
	assert.Equal(t, 100200.0, e.Balance())
}

func TestResyncResetsStuckExitingPosition(t *testing.T) {
	pos := restoredPosition(domain.StatusExiting)
	repo := &stubRepo{active: []*domain.Position{pos}, nextID: 1}
	e, _ := newTestEngine(t, repo)

	require.NoError(t, e.resync(context.Background()))

	assert.True(t, pos.IsActive(), "stuck exiting position should return to evaluation")
	assert.Equal(t, 1, repo.updates)
	assert.Equal(t, 99000.0, e.Balance())
}

func TestFillThenExitPreservesLedgerIdentity(t *testing.T) {
	repo := &stubRepo{}
	e, _ := newTestEngine(t, repo)
	ctx := context.Background()

	pos := restoredPosition(domain.StatusActive)
	pos.ID = 0
	require.NoError(t, e.OnFill(ctx, pos))
	assert.Equal(t, 99000.0, e.Balance())

	e.onExit(pos, ports.ExitEvent{PositionID: pos.ID, PnL: -250.50})
	assert.Equal(t, 99749.5, e.Balance())
}

func TestFeedLifecycleSafeUnderConcurrency(t *testing.T) {
	repo := &stubRepo{}
	e, feed := newTestEngine(t, repo)
	ctx := context.Background()

	e.monitor.Track(restoredPosition(domain.StatusActive))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.ensureFeed(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.stopFeed()
		}()
	}
	wg.Wait()

	// Idempotent teardown; a second stop on an already-stopped feed is a
	// no-op rather than a double close.
	e.stopFeed()
	e.stopFeed()

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.GreaterOrEqual(t, feed.subscribes, 1)
}
