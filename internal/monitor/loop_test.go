package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsSentry/internal/adapters/logger"
	"optionsSentry/internal/dispatch"
	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"
	"optionsSentry/internal/risk"
	"optionsSentry/internal/rules"
	"optionsSentry/internal/valuation"
)

var kolkata = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

type stubBroker struct {
	mu      sync.Mutex
	quote   float64
	orders  int
	fetches int
	marks   map[string]float64
}

func (b *stubBroker) PlaceCloseOrder(_ context.Context, req ports.CloseOrderRequest) (*ports.CloseOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders++
	return &ports.CloseOrderResult{OrderID: fmt.Sprintf("ORD-%d", b.orders), FillPrice: b.quote}, nil
}

func (b *stubBroker) FetchPositions(context.Context) ([]ports.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	var out []ports.BrokerPosition
	for sym, price := range b.marks {
		out = append(out, ports.BrokerPosition{Symbol: sym, Quantity: 50, LastPrice: price})
	}
	return out, nil
}

func (b *stubBroker) FetchQuote(context.Context, string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quote <= 0 {
		return 0, ports.ErrNotFound
	}
	return b.quote, nil
}

func (b *stubBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders
}

type stubRepo struct {
	mu      sync.Mutex
	updates int
}

func (r *stubRepo) Create(_ context.Context, pos *domain.Position) (int64, error) { return pos.ID, nil }
func (r *stubRepo) Update(context.Context, *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return nil
}
func (r *stubRepo) FindByID(context.Context, int64) (*domain.Position, error) { return nil, nil }
func (r *stubRepo) FindActive(context.Context) ([]*domain.Position, error)    { return nil, nil }
func (r *stubRepo) FindClosedSince(context.Context, time.Time) ([]*domain.Position, error) {
	return nil, nil
}
func (r *stubRepo) FindAll(context.Context, int) ([]*domain.Position, error) { return nil, nil }

type stubSignals struct {
	sig *domain.SignalState
}

func (s *stubSignals) Latest(context.Context, string) (*domain.SignalState, error) {
	return s.sig, nil
}

type harness struct {
	now        time.Time
	monitor    *Monitor
	cache      *valuation.Cache
	broker     *stubBroker
	repo       *stubRepo
	signals    *stubSignals
	dispatcher *dispatch.Dispatcher
	exits      chan ports.ExitEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lg := logger.NewStdLogger(logger.LevelError)

	chain, err := rules.NewChain(rules.Config{
		Trailing:         risk.TrailingSchedule{ActivationPct: 3.0, FloorPct: 2.0, CeilingPct: 10.0, DecayRate: 0.04},
		FallbackDrawdown: 5.0,
		Loss:             risk.LossSchedule{BasePct: 20.0, FloorPct: 10.0, DecayRate: 0.03, VolatilityRef: 0.6},
		FallbackStop:     18.0,
		HardStopCeiling:  5000,
		StallBars:        map[domain.InstrumentClass]int{domain.ClassNifty: 6},
		ScalpMax:         20 * time.Minute,
		TrendMax:         90 * time.Minute,
		FlattenAt:        domain.TimeOfDay{Hour: 15, Minute: 10},
		Location:         kolkata,
	}, lg)
	require.NoError(t, err)

	broker := &stubBroker{quote: 100}
	repo := &stubRepo{}
	disp, err := dispatch.New(broker, repo, nil, lg, dispatch.Options{
		MaxAttempts: 2, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	exits := make(chan ports.ExitEvent, 4)
	disp.OnExit = func(_ *domain.Position, ev ports.ExitEvent) { exits <- ev }

	cache := valuation.New(10 * time.Second)
	signals := &stubSignals{}

	clock := MarketClock{Open: domain.TimeOfDay{Hour: 9, Minute: 15}, Close: domain.TimeOfDay{Hour: 15, Minute: 30}, Loc: kolkata}
	mon, err := New(cache, repo, chain, disp, signals, broker, clock, risk.BreakevenLock{LockGainPct: 6.0},
		Intervals{Idle: time.Minute, Flat: time.Second, Hot: 10 * time.Millisecond}, 1000, lg)
	require.NoError(t, err)

	midSession := time.Date(2026, 8, 28, 11, 0, 0, 0, kolkata)
	mon.SetClock(func() time.Time { return midSession })
	cache.SetClock(func() time.Time { return midSession })

	return &harness{now: midSession, monitor: mon, cache: cache, broker: broker, repo: repo, signals: signals, dispatcher: disp, exits: exits}
}

func monitoredPosition() *domain.Position {
	entry := time.Date(2026, 8, 28, 10, 55, 0, 0, kolkata)
	return &domain.Position{
		ID:         11,
		Symbol:     "NIFTY24SEP24800CE",
		Class:      domain.ClassNifty,
		EntryPrice: 100,
		Quantity:   50,
		EntryCost:  5000,
		EntryTime:  entry,
		TradeClass: domain.TradeClassScalp,
		Status:     domain.StatusActive,
	}
}

func waitForExit(t *testing.T, h *harness) ports.ExitEvent {
	t.Helper()
	select {
	case ev := <-h.exits:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
		return ports.ExitEvent{}
	}
}

func TestCycleHoldsQuietPosition(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 102, h.now)

	h.monitor.Cycle(context.Background())

	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Zero(t, h.broker.orderCount())
}

func TestCycleDispatchesTriggeredExit(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 0, h.now) // Premium collapsed: ₹5,000 loss hits the hard stop ceiling

	h.monitor.Cycle(context.Background())
	ev := waitForExit(t, h)

	assert.Equal(t, pos.ID, ev.PositionID)
	assert.Contains(t, ev.Reason, string(domain.ReasonHardCapitalStop))
	assert.Equal(t, 1, h.broker.orderCount())
}

func TestCycleFallsBackToQuoteOnCacheMiss(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.broker.quote = 107 // Never ticked; only the broker knows the price

	h.monitor.Cycle(context.Background())

	snap, ok := h.cache.Get(pos.ID)
	require.True(t, ok, "quote fallback must populate the cache")
	assert.Equal(t, 107.0, snap.Price)
	assert.Equal(t, domain.StatusActive, pos.Status)
}

func TestCycleSkipsPositionWhenNoPriceAvailable(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.broker.quote = 0 // Quote fails too

	h.monitor.Cycle(context.Background())

	// Fail-soft: no evaluation against a guessed price, no exit.
	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.Zero(t, h.broker.orderCount())
}

func TestCycleCommitsRisingHighWaterMark(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 102, h.now)

	h.monitor.Cycle(context.Background())

	assert.Equal(t, 2.0, pos.HighWaterMarkPct)
	h.repo.mu.Lock()
	updates := h.repo.updates
	h.repo.mu.Unlock()
	assert.Equal(t, 1, updates, "raised mark is persisted once")
}

func TestCycleLocksBreakevenOnce(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 107, h.now) // +7% crosses the 6% lock threshold

	h.monitor.Cycle(context.Background())

	assert.True(t, pos.BreakevenLocked)
	assert.Equal(t, pos.EntryPrice, pos.StopPrice)
}

func TestCycleFreezesOnHighWaterMarkDecrease(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 102, h.now)

	// Simulate upstream corruption: the committed mark is ahead of
	// anything the cache has seen.
	pos.HighWaterMarkPct = 50

	h.monitor.Cycle(context.Background())

	assert.True(t, h.monitor.Frozen(pos.ID))
	assert.Equal(t, domain.StatusActive, pos.Status, "frozen, not exited")

	// Frozen positions are excluded from subsequent cycles.
	h.monitor.Cycle(context.Background())
	assert.Zero(t, h.broker.orderCount())
}

func TestUntrackClearsFrozenState(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)
	h.cache.Update(pos, 102, h.now)
	pos.HighWaterMarkPct = 50
	h.monitor.Cycle(context.Background())
	require.True(t, h.monitor.Frozen(pos.ID))

	h.monitor.Untrack(pos.ID)
	assert.False(t, h.monitor.Frozen(pos.ID))
}

func TestOnTickRefreshesTrackedSymbols(t *testing.T) {
	h := newHarness(t)
	pos := monitoredPosition()
	h.monitor.Track(pos)

	h.monitor.OnTick(domain.Tick{Symbol: pos.Symbol, Price: 109, Timestamp: h.now})

	snap, ok := h.cache.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, 109.0, snap.Price)

	// Ticks for other symbols leave the snapshot alone.
	h.monitor.OnTick(domain.Tick{Symbol: "OTHER", Price: 1, Timestamp: h.now})
	snap, _ = h.cache.Get(pos.ID)
	assert.Equal(t, 109.0, snap.Price)
}

func TestSymbolsDeduplicates(t *testing.T) {
	h := newHarness(t)
	a := monitoredPosition()
	b := monitoredPosition()
	b.ID = 12 // Same contract, second tranche
	c := monitoredPosition()
	c.ID = 13
	c.Symbol = "BANKNIFTY24SEP52000CE"

	h.monitor.Track(a)
	h.monitor.Track(b)
	h.monitor.Track(c)

	assert.ElementsMatch(t, []string{a.Symbol, c.Symbol}, h.monitor.Symbols())
}

func TestFlatUpkeepKeepsReconcileCadence(t *testing.T) {
	h := newHarness(t)
	h.broker.marks = map[string]float64{"NIFTY24SEP24800CE": 104}

	// An empty working set still reconciles against the broker on the
	// usual cadence, so a broker-side position nobody is tracking gets
	// noticed between fills.
	for i := 0; i < 1000; i++ {
		h.monitor.Upkeep(context.Background())
	}

	h.broker.mu.Lock()
	fetches := h.broker.fetches
	orders := h.broker.orders
	h.broker.mu.Unlock()
	assert.Equal(t, 1, fetches)
	assert.Zero(t, orders)
}
