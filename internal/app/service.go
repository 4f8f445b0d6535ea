// Package app wires the exit engine together and owns its lifecycle:
// startup resync, the tick feed subscription, the monitor loop, and the
// bookkeeping that runs when an exit completes.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"optionsSentry/config"
	"optionsSentry/internal/dispatch"
	"optionsSentry/internal/domain"
	"optionsSentry/internal/metrics"
	"optionsSentry/internal/monitor"
	"optionsSentry/internal/ports"
	"optionsSentry/internal/risk"
	"optionsSentry/internal/rules"
	"optionsSentry/internal/valuation"
)

// Deps are the externally-provided adapters the engine runs against.
type Deps struct {
	Logger   ports.Logger
	Broker   ports.BrokerClient
	Repo     ports.PositionRepository
	Counters ports.CounterStore
	Signals  ports.SignalProvider // May be nil; signal rules go unavailable
	Notifier ports.Notifier       // May be nil; exits stay silent
	Feed     ports.TickStream

	// ReplayCounters rebuilds today's governor counters from position
	// history on startup. Set it when the counter store is volatile
	// (in-memory); a durable store would double-count.
	ReplayCounters bool
}

// Engine is the position risk and exit decision engine.
type Engine struct {
	cfg        *config.Config
	logger     ports.Logger
	deps       Deps
	cache      *valuation.Cache
	chain      *rules.Chain
	governor   *risk.Governor
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor
	ledger     *Ledger

	feedMu   sync.Mutex
	feedStop chan<- struct{}
	feedDone <-chan struct{}
}

// New builds the engine from configuration and adapters.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil || cfg.Rules == nil {
		return nil, fmt.Errorf("missing configuration for Engine")
	}
	if deps.Logger == nil || deps.Broker == nil || deps.Repo == nil || deps.Counters == nil || deps.Feed == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	r := cfg.Rules

	cache := valuation.New(r.SnapshotTTL.Std())

	chainCfg, err := buildChainConfig(r, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("build rule chain: %w", err)
	}
	chain, err := rules.NewChain(chainCfg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("build rule chain: %w", err)
	}

	governor, err := risk.NewGovernor(deps.Counters, risk.Limits{
		ClassLossCap:       r.Daily.ClassLossCap,
		GlobalLossCap:      r.Daily.GlobalLossCap,
		ClassProfitTarget:  r.Daily.ClassProfitTarget,
		GlobalProfitTarget: r.Daily.GlobalProfitTarget,
		ClassTradeCap:      r.Daily.ClassTradeCap,
		GlobalTradeCap:     r.Daily.GlobalTradeCap,
	}, cfg.Location, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("build governor: %w", err)
	}

	dispatcher, err := dispatch.New(deps.Broker, deps.Repo, deps.Notifier, deps.Logger, dispatch.Options{
		MaxAttempts: r.Dispatch.MaxAttempts,
		BackoffMin:  r.Dispatch.BackoffMin.Std(),
		BackoffMax:  r.Dispatch.BackoffMax.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	open, err := domain.ParseTimeOfDay(r.Session.Open)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	closeAt, err := domain.ParseTimeOfDay(r.Session.Close)
	if err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}
	clock := monitor.MarketClock{Open: open, Close: closeAt, Loc: cfg.Location}

	mon, err := monitor.New(cache, deps.Repo, chain, dispatcher, deps.Signals, deps.Broker, clock,
		risk.BreakevenLock{LockGainPct: r.BreakevenPct},
		monitor.Intervals{
			Idle: r.Monitor.IdleInterval.Std(),
			Flat: r.Monitor.FlatInterval.Std(),
			Hot:  r.Monitor.HotInterval.Std(),
		},
		r.Monitor.ReconcileEvery, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("build monitor: %w", err)
	}

	ledger, err := NewLedger(cfg.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		logger:     deps.Logger,
		deps:       deps,
		cache:      cache,
		chain:      chain,
		governor:   governor,
		dispatcher: dispatcher,
		monitor:    mon,
		ledger:     ledger,
	}
	// Exit bookkeeping runs after the dispatcher has durably closed a
	// position: realized PnL into the governor, proceeds into the ledger,
	// then the position leaves the working set.
	dispatcher.OnExit = e.onExit
	return e, nil
}

// buildChainConfig maps the YAML rule tables onto the chain's typed config.
func buildChainConfig(r *config.Rules, loc *time.Location) (rules.Config, error) {
	flatten, err := domain.ParseTimeOfDay(r.Session.Flatten)
	if err != nil {
		return rules.Config{}, fmt.Errorf("session flatten: %w", err)
	}

	windows := make([]rules.TimeWindowMult, 0, len(r.HardStop.Multipliers))
	for _, m := range r.HardStop.Multipliers {
		from, err := domain.ParseTimeOfDay(m.From)
		if err != nil {
			return rules.Config{}, fmt.Errorf("hard stop window from: %w", err)
		}
		to, err := domain.ParseTimeOfDay(m.To)
		if err != nil {
			return rules.Config{}, fmt.Errorf("hard stop window to: %w", err)
		}
		windows = append(windows, rules.TimeWindowMult{From: from, To: to, Mult: m.Mult})
	}

	classFloors := make(map[domain.InstrumentClass]float64, len(r.Trailing.ClassFloors))
	for class, floor := range r.Trailing.ClassFloors {
		classFloors[domain.InstrumentClass(class)] = floor
	}
	stallBars := make(map[domain.InstrumentClass]int, len(r.StallBars))
	for class, bars := range r.StallBars {
		stallBars[domain.InstrumentClass(class)] = bars
	}

	return rules.Config{
		Trailing: risk.TrailingSchedule{
			ActivationPct: r.Trailing.ActivationPct,
			FloorPct:      r.Trailing.FloorPct,
			CeilingPct:    r.Trailing.CeilingPct,
			DecayRate:     r.Trailing.DecayRate,
			ClassFloors:   classFloors,
		},
		FallbackDrawdown: r.Trailing.FallbackDrawdown,
		Loss: risk.LossSchedule{
			BasePct:           r.Loss.BasePct,
			FloorPct:          r.Loss.FloorPct,
			DecayRate:         r.Loss.DecayRate,
			TimePenaltyPerMin: r.Loss.TimePenaltyPerMin,
			VolatilityRef:     r.Loss.VolatilityRef,
			VolatilityPenalty: r.Loss.VolatilityPenalty,
		},
		FallbackStop:    r.Loss.FallbackStop,
		HardStopCeiling: r.HardStop.CeilingRupees,
		HardStopWindows: windows,
		StallBars:       stallBars,
		ScalpMax:        r.TimeStops.ScalpMax.Std(),
		TrendMax:        r.TimeStops.TrendMax.Std(),
		FlattenAt:       flatten,
		Location:        loc,
	}, nil
}

// Start runs the engine until the context is cancelled or a shutdown
// signal arrives. It resyncs state from storage, connects the tick feed,
// and then blocks in the monitor loop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info(ctx, "Starting exit engine")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			e.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := e.resync(ctx); err != nil {
		return fmt.Errorf("startup resync: %w", err)
	}

	if err := e.ensureFeed(ctx); err != nil {
		// No positions yet means no symbols to subscribe; not fatal.
		e.logger.Warn(ctx, "Tick feed not started", map[string]interface{}{"error": err.Error()})
	}
	defer e.stopFeed()

	err := e.monitor.Run(ctx)
	e.logger.Info(context.Background(), "Exit engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resync restores the working set from storage so a restart resumes
// monitoring mid-session without losing positions or daily counters.
func (e *Engine) resync(ctx context.Context) error {
	active, err := e.deps.Repo.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("load active positions: %w", err)
	}
	for _, pos := range active {
		// A position stuck in exiting lost its dispatch to the restart;
		// put it back under evaluation so the trigger fires again.
		if pos.Status == domain.StatusExiting {
			pos.SetStatus(domain.StatusActive)
			if uerr := e.deps.Repo.Update(ctx, pos); uerr != nil {
				e.logger.Warn(ctx, "Failed to reset exiting position", map[string]interface{}{"positionID": pos.ID, "error": uerr.Error()})
			}
		}
		// The ledger starts from the configured balance every boot; each
		// restored position's cost must come back out of it or the later
		// exit credit double-counts the capital.
		if lerr := e.ledger.OnEntry(pos.EntryCost); lerr != nil {
			e.logger.Error(ctx, lerr, "Failed to book restored position; ledger balance is suspect", map[string]interface{}{"positionID": pos.ID, "entryCost": pos.EntryCost})
		}
		e.monitor.Track(pos)
		if price, qerr := e.deps.Broker.FetchQuote(ctx, pos.Symbol); qerr == nil {
			e.cache.Update(pos, price, time.Now())
		}
	}
	e.logger.Info(ctx, "Resynced active positions", map[string]interface{}{"count": len(active)})

	if e.deps.ReplayCounters {
		if err := e.replayCounters(ctx); err != nil {
			return err
		}
	}
	return nil
}

// replayCounters rebuilds today's governor counters from closed positions.
// Only used with a volatile counter store; the lockout semantics must
// survive a restart either way.
func (e *Engine) replayCounters(ctx context.Context) error {
	now := time.Now().In(e.cfg.Location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.cfg.Location)

	closed, err := e.deps.Repo.FindClosedSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("load closed positions: %w", err)
	}
	for _, pos := range closed {
		if err := e.governor.RecordTrade(ctx, pos.Class); err != nil {
			return fmt.Errorf("replay trade count: %w", err)
		}
		if err := e.governor.RecordRealized(ctx, pos.Class, pos.RealizedPnL); err != nil {
			return fmt.Errorf("replay realized pnl: %w", err)
		}
	}
	e.logger.Info(ctx, "Replayed daily counters", map[string]interface{}{"closedToday": len(closed), "day": e.governor.Day()})
	return nil
}

// OnFill registers a newly filled entry with the engine: it persists the
// position, books the capital debit, counts the trade, and puts the
// position under monitoring.
func (e *Engine) OnFill(ctx context.Context, pos *domain.Position) error {
	if pos == nil {
		return fmt.Errorf("nil position")
	}
	if pos.Symbol == "" || pos.EntryPrice <= 0 || pos.Quantity <= 0 {
		return fmt.Errorf("invalid fill: symbol=%q entry=%.2f qty=%d", pos.Symbol, pos.EntryPrice, pos.Quantity)
	}
	if pos.EntryCost <= 0 {
		pos.EntryCost = pos.EntryPrice * float64(pos.Quantity)
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = time.Now()
	}
	pos.Status = domain.StatusActive

	if err := e.ledger.OnEntry(pos.EntryCost); err != nil {
		return fmt.Errorf("book entry: %w", err)
	}

	id, err := e.deps.Repo.Create(ctx, pos)
	if err != nil {
		e.ledger.OnExit(pos.EntryCost, 0) // Undo the debit
		return fmt.Errorf("persist position: %w", err)
	}
	pos.ID = id

	if err := e.governor.RecordTrade(ctx, pos.Class); err != nil {
		e.logger.Warn(ctx, "Failed to count trade", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
	}

	e.monitor.Track(pos)
	if err := e.ensureFeed(ctx); err != nil {
		e.logger.Warn(ctx, "Failed to refresh tick feed subscription", map[string]interface{}{"error": err.Error()})
	}

	e.logger.Info(ctx, "Position under monitoring", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"class":      string(pos.Class),
		"entryCost":  pos.EntryCost,
		"balance":    e.ledger.Balance(),
	})
	return nil
}

// CanTrade asks the governor whether a new entry in the class is allowed.
func (e *Engine) CanTrade(ctx context.Context, class domain.InstrumentClass) risk.Decision {
	d := e.governor.CanTrade(ctx, class)
	if !d.Allowed {
		metrics.GovernorBlocks.WithLabelValues(d.Code).Inc()
	}
	return d
}

// Balance returns the ledger's current cash balance.
func (e *Engine) Balance() float64 { return e.ledger.Balance() }

// onExit books a completed exit. Runs on the dispatch worker, after the
// position is durably exited.
func (e *Engine) onExit(pos *domain.Position, ev ports.ExitEvent) {
	ctx := context.Background()
	if err := e.governor.RecordRealized(ctx, pos.Class, ev.PnL); err != nil {
		e.logger.Error(ctx, err, "Failed to record realized pnl; daily caps may lag", map[string]interface{}{"positionID": pos.ID})
	}
	e.ledger.OnExit(pos.EntryCost, ev.PnL)
	e.monitor.Untrack(pos.ID)
	e.cache.Invalidate(pos.ID)
	e.logger.Info(ctx, "Exit booked", map[string]interface{}{
		"positionID": pos.ID,
		"pnl":        ev.PnL,
		"balance":    e.ledger.Balance(),
	})
}

// ensureFeed (re)subscribes the tick stream to the working set's symbols.
// The previous subscription is torn down first; the stream itself handles
// transport-level reconnects.
func (e *Engine) ensureFeed(ctx context.Context) error {
	symbols := e.monitor.Symbols()
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	e.stopFeedLocked()

	done, stop, err := e.deps.Feed.Subscribe(ctx, symbols, e.monitor.OnTick, func(err error) {
		e.logger.Warn(ctx, "Tick feed error", map[string]interface{}{"error": err.Error()})
	})
	if err != nil {
		return err
	}
	e.feedDone = done
	e.feedStop = stop
	return nil
}

func (e *Engine) stopFeed() {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	e.stopFeedLocked()
}

func (e *Engine) stopFeedLocked() {
	if e.feedStop == nil {
		return
	}
	close(e.feedStop)
	select {
	case <-e.feedDone:
	case <-time.After(5 * time.Second):
	}
	e.feedStop = nil
	e.feedDone = nil
}
