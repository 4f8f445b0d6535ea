// Package monitor drives the exit engine: a periodic control loop over the
// working set of active positions. Each cycle refreshes a position's
// valuation snapshot, runs the exit decision chain against it, and either
// hands the decision to the dispatcher or commits the snapshot's
// high-water-mark back onto the position record.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"optionsSentry/internal/dispatch"
	"optionsSentry/internal/domain"
	"optionsSentry/internal/metrics"
	"optionsSentry/internal/ports"
	"optionsSentry/internal/risk"
	"optionsSentry/internal/rules"
	"optionsSentry/internal/valuation"
)

// State is the loop's cadence selector.
type State int

const (
	StateIdle State = iota // Market closed
	StateFlat              // Market open, no positions
	StateHot               // Market open, positions present
)

// Intervals hold the sleep per loop state.
type Intervals struct {
	Idle time.Duration
	Flat time.Duration
	Hot  time.Duration
}

// Monitor is the position monitor loop.
type Monitor struct {
	cache      *valuation.Cache
	repo       ports.PositionRepository
	chain      *rules.Chain
	dispatcher *dispatch.Dispatcher
	signals    ports.SignalProvider
	broker     ports.BrokerClient
	clock      MarketClock
	breakeven  risk.BreakevenLock
	intervals  Intervals
	reconcile  int // Broker reconcile every N hot cycles
	logger     ports.Logger
	now        func() time.Time

	mu       sync.Mutex
	tracked  map[int64]*domain.Position
	frozen   map[int64]struct{}
	wake     chan struct{}
	workers  sync.WaitGroup
	cycleSeq int
}

// New creates a Monitor. All dependencies except signals are required;
// a nil SignalProvider simply leaves rules 2-3 and the loss schedule's
// side inputs unavailable.
func New(
	cache *valuation.Cache,
	repo ports.PositionRepository,
	chain *rules.Chain,
	dispatcher *dispatch.Dispatcher,
	signals ports.SignalProvider,
	broker ports.BrokerClient,
	clock MarketClock,
	breakeven risk.BreakevenLock,
	intervals Intervals,
	reconcileEvery int,
	logger ports.Logger,
) (*Monitor, error) {
	if cache == nil || repo == nil || chain == nil || dispatcher == nil || broker == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if intervals.Idle <= 0 || intervals.Flat <= 0 || intervals.Hot <= 0 {
		return nil, fmt.Errorf("monitor intervals must be positive")
	}
	if reconcileEvery <= 0 {
		reconcileEvery = 30
	}
	return &Monitor{
		cache:      cache,
		repo:       repo,
		chain:      chain,
		dispatcher: dispatcher,
		signals:    signals,
		broker:     broker,
		clock:      clock,
		breakeven:  breakeven,
		intervals:  intervals,
		reconcile:  reconcileEvery,
		logger:     logger,
		now:        time.Now,
		tracked:    make(map[int64]*domain.Position),
		frozen:     make(map[int64]struct{}),
		wake:       make(chan struct{}, 1),
	}, nil
}

// SetClock overrides the monitor's time source for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Track adds a position to the working set and wakes the loop so a newly
// opened position does not wait out a full idle interval.
func (m *Monitor) Track(pos *domain.Position) {
	m.mu.Lock()
	m.tracked[pos.ID] = pos
	m.mu.Unlock()
	m.Wake()
}

// Untrack removes a position from the working set.
func (m *Monitor) Untrack(id int64) {
	m.mu.Lock()
	delete(m.tracked, id)
	delete(m.frozen, id)
	m.mu.Unlock()
	m.Wake()
}

// Wake nudges the loop to run a cycle now. Non-blocking; a pending wake
// is enough.
func (m *Monitor) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// OnTick refreshes the valuation snapshot of every tracked position on the
// tick's symbol. Called from the feed goroutine; cheap by design.
func (m *Monitor) OnTick(tick domain.Tick) {
	m.mu.Lock()
	var touched []*domain.Position
	for _, pos := range m.tracked {
		if pos.Symbol == tick.Symbol && pos.IsActive() {
			touched = append(touched, pos)
		}
	}
	m.mu.Unlock()

	for _, pos := range touched {
		m.cache.Update(pos, tick.Price, tick.Timestamp)
	}
}

// Symbols returns the distinct symbols of the working set, for feed
// subscription.
func (m *Monitor) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(m.tracked))
	var out []string
	for _, pos := range m.tracked {
		if _, ok := seen[pos.Symbol]; !ok {
			seen[pos.Symbol] = struct{}{}
			out = append(out, pos.Symbol)
		}
	}
	return out
}

func (m *Monitor) state() State {
	if !m.clock.IsOpen(m.now()) {
		return StateIdle
	}
	m.mu.Lock()
	n := len(m.tracked)
	m.mu.Unlock()
	if n == 0 {
		return StateFlat
	}
	return StateHot
}

func (m *Monitor) interval(s State) time.Duration {
	switch s {
	case StateHot:
		return m.intervals.Hot
	case StateFlat:
		return m.intervals.Flat
	default:
		return m.intervals.Idle
	}
}

// Run executes the loop until ctx is cancelled. It never terminates on its
// own during normal operation. On shutdown it waits for in-flight dispatch
// workers to finish durably before returning.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info(ctx, "Position monitor started", map[string]interface{}{
		"hotInterval":  m.intervals.Hot.String(),
		"flatInterval": m.intervals.Flat.String(),
		"idleInterval": m.intervals.Idle.String(),
	})

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Position monitor stopping, draining dispatch workers")
			m.workers.Wait()
			return ctx.Err()
		case <-m.wake:
		case <-timer.C:
		}

		state := m.state()
		metrics.MonitorState.Set(float64(state))
		switch state {
		case StateHot:
			m.Cycle(ctx)
		case StateFlat:
			m.Upkeep(ctx)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.interval(state))
	}
}

// Upkeep runs flat-state maintenance. The broker reconcile keeps its
// cadence even with an empty working set, so cached marks stay fresh and a
// broker-side position the engine is not tracking gets flagged instead of
// sitting unmanaged until the next fill.
func (m *Monitor) Upkeep(ctx context.Context) {
	m.cycleSeq++
	if m.cycleSeq%m.reconcile == 0 {
		m.reconcileWithBroker(ctx)
	}
}

// Cycle evaluates every tracked position once. Exposed for tests and for
// event-driven invocation.
func (m *Monitor) Cycle(ctx context.Context) {
	m.cycleSeq++
	if m.cycleSeq%m.reconcile == 0 {
		m.reconcileWithBroker(ctx)
	}

	m.mu.Lock()
	positions := make([]*domain.Position, 0, len(m.tracked))
	for id, pos := range m.tracked {
		if _, isFrozen := m.frozen[id]; isFrozen {
			continue
		}
		positions = append(positions, pos)
	}
	m.mu.Unlock()

	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		m.evaluateOne(ctx, pos)
	}
}

// evaluateOne runs one position through snapshot refresh, the exit chain,
// and either dispatch or high-water-mark commit.
func (m *Monitor) evaluateOne(ctx context.Context, pos *domain.Position) {
	if !pos.IsActive() {
		// Exiting: a dispatch is in flight and holds the claim.
		return
	}
	now := m.now()

	// One consistent snapshot per cycle; every rule sees the same numbers.
	snap, ok := m.cache.Get(pos.ID)
	if !ok {
		price, err := m.broker.FetchQuote(ctx, pos.Symbol)
		if err != nil {
			// Fail-soft: skip this position for the cycle rather than
			// evaluate against a guessed price.
			m.logger.Warn(ctx, "Valuation miss and quote fallback failed, skipping cycle", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
				"error":      err.Error(),
			})
			return
		}
		snap = m.cache.Update(pos, price, now)
	}

	var sig *domain.SignalState
	if m.signals != nil {
		var err error
		sig, err = m.signals.Latest(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn(ctx, "Signal provider read failed", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
			sig = nil
		}
	}

	// One-shot breakeven lock, committed before the chain runs so the
	// floor rule can see it in the same cycle.
	if !pos.IsBreakevenLocked() && m.breakeven.ShouldLock(snap.HighWaterPct) {
		pos.LockBreakeven()
		if err := m.repo.Update(ctx, pos); err != nil {
			m.logger.Warn(ctx, "Failed to persist breakeven lock", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		} else {
			m.logger.Info(ctx, "Breakeven locked", map[string]interface{}{"positionID": pos.ID, "peakPct": snap.HighWaterPct})
		}
	}

	res := m.chain.Evaluate(ctx, rules.Input{Pos: pos, Snap: snap, Signal: sig, Now: now})
	if res.Verdict == rules.Exit {
		m.spawnDispatch(ctx, pos, res)
		return
	}

	// No exit: accept the snapshot's peak onto the position record.
	raised, err := pos.CommitHighWaterMark(snap.HighWaterPct)
	if err != nil {
		// Invariant violation: freeze the position out of automated
		// evaluation and surface it for operator attention.
		m.freeze(ctx, pos, err)
		return
	}
	if raised {
		if uerr := m.repo.Update(ctx, pos); uerr != nil {
			m.logger.Warn(ctx, "Failed to persist high-water-mark", map[string]interface{}{"positionID": pos.ID, "error": uerr.Error()})
		}
	}
}

// spawnDispatch hands the decision to a worker so a slow broker response
// for one position cannot delay risk evaluation of the others. The worker
// context is detached from the loop's cancellation so an in-flight close
// order finishes durably during shutdown.
func (m *Monitor) spawnDispatch(ctx context.Context, pos *domain.Position, res rules.Result) {
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()

		err := m.dispatcher.Dispatch(dctx, pos, res.Reason, res.Detail)
		if err != nil && !errors.Is(err, ports.ErrClaimHeld) {
			// The position reverted to active; next cycle re-queues it.
			m.logger.Error(dctx, err, "Exit dispatch failed, position re-queued", map[string]interface{}{
				"positionID": pos.ID,
				"reason":     string(res.Reason),
			})
		}
	}()
	m.Wake()
}

// freeze takes a position out of automated evaluation after an invariant
// violation. Only an operator restart un-freezes it.
func (m *Monitor) freeze(ctx context.Context, pos *domain.Position, cause error) {
	m.mu.Lock()
	m.frozen[pos.ID] = struct{}{}
	n := len(m.frozen)
	m.mu.Unlock()
	metrics.FrozenPositions.Set(float64(n))
	m.logger.Error(ctx, fmt.Errorf("%w: %v", ports.ErrInvariantViolation, cause),
		"Position frozen out of evaluation; operator attention required", map[string]interface{}{
			"positionID": pos.ID,
			"symbol":     pos.Symbol,
		})
}

// Frozen reports whether a position has been frozen. Used by tests.
func (m *Monitor) Frozen(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.frozen[id]
	return ok
}

// reconcileWithBroker overwrites cached marks with broker-confirmed state
// to correct drift from missed ticks.
func (m *Monitor) reconcileWithBroker(ctx context.Context) {
	brokerPositions, err := m.broker.FetchPositions(ctx)
	if err != nil {
		m.logger.Warn(ctx, "Broker reconcile failed", map[string]interface{}{"error": err.Error()})
		return
	}
	marks := make(map[string]float64, len(brokerPositions))
	for _, bp := range brokerPositions {
		marks[bp.Symbol] = bp.LastPrice
	}

	m.mu.Lock()
	positions := make([]*domain.Position, 0, len(m.tracked))
	for _, pos := range m.tracked {
		positions = append(positions, pos)
	}
	m.mu.Unlock()

	if len(positions) == 0 && len(brokerPositions) > 0 {
		symbols := make([]string, 0, len(brokerPositions))
		for _, bp := range brokerPositions {
			symbols = append(symbols, bp.Symbol)
		}
		m.logger.Warn(ctx, "Broker reports open positions not under monitoring", map[string]interface{}{"symbols": symbols})
	}

	m.cache.Reconcile(positions, marks, m.now())
	m.logger.Debug(ctx, "Reconciled valuations against broker", map[string]interface{}{"positions": len(positions), "marks": len(marks)})
}
