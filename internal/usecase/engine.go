package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/metrics"
	"go.uber.org/zap"
)

// Fallback pacing when the configuration cannot be loaded; the scheduler
// keeps rescheduling rather than terminating.
const defaultCycleInterval = 60 * time.Second

// EngineDeps bundles the collaborators one trading engine needs.
type EngineDeps struct {
	Config    domain.ConfigProvider
	Exchange  domain.Exchange
	Samples   domain.SampleRepository
	Signals   domain.SignalRepository
	Positions domain.PositionRepository
	Events    domain.EventSink
	Logger    *zap.Logger
	Clock     domain.Clock
}

// CycleEngine runs the trading loop for one account: reconcile fills, ingest
// market data, detect support, generate and execute signals, monitor
// positions, and evaluate end-of-day closure, in that order, symbols
// processed sequentially. At most one cycle is in flight at any time; the
// next timer only starts once the previous cycle has fully returned.
type CycleEngine struct {
	accountID string
	deps      EngineDeps

	detector   *SupportDetector
	generator  *SignalGenerator
	sizer      *PositionSizer
	placer     *OrderPlacer
	reconciler *FillReconciler
	closer     *PositionCloser
	monitor    *PositionMonitor
	eod        *EndOfDayManager

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastInterval time.Duration
}

func NewCycleEngine(accountID string, deps EngineDeps) *CycleEngine {
	if deps.Clock == nil {
		deps.Clock = domain.ClockFunc(time.Now)
	}

	instruments := NewInstrumentCache(deps.Exchange, DefaultInstrumentTTL)
	sizer := NewPositionSizer(instruments)
	closer := NewPositionCloser(deps.Exchange, deps.Positions, sizer, deps.Events, deps.Logger)

	return &CycleEngine{
		accountID:    accountID,
		deps:         deps,
		detector:     NewSupportDetector(),
		generator:    NewSignalGenerator(deps.Positions, deps.Logger),
		sizer:        sizer,
		placer:       NewOrderPlacer(deps.Exchange, deps.Positions, deps.Signals, sizer, deps.Events, deps.Logger),
		reconciler:   NewFillReconciler(deps.Exchange, deps.Positions, sizer, deps.Events, deps.Logger),
		closer:       closer,
		monitor:      NewPositionMonitor(deps.Exchange, deps.Positions, closer, deps.Logger),
		eod:          NewEndOfDayManager(deps.Exchange, deps.Positions, closer, deps.Events, deps.Logger),
		lastInterval: defaultCycleInterval,
	}
}

func (e *CycleEngine) AccountID() string { return e.accountID }

func (e *CycleEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start transitions stopped→running and kicks off the self-rescheduling
// loop. Starting a running engine is a no-op.
func (e *CycleEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	cfg, err := e.deps.Config.LoadConfig(ctx, e.accountID)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load config for %s: %w", e.accountID, err)
	}
	if !cfg.IsActive {
		e.mu.Unlock()
		return domain.ErrConfigInactive
	}

	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	if err := e.deps.Exchange.Subscribe(cfg.Symbols); err != nil {
		e.deps.Logger.Warn("Failed to subscribe to price stream",
			zap.Error(err),
			zap.Strings("symbols", cfg.Symbols))
	}

	e.deps.Logger.Info("Trading engine started",
		zap.String("account_id", e.accountID),
		zap.Strings("symbols", cfg.Symbols),
		zap.Int("interval_seconds", cfg.MainLoopIntervalSeconds))

	go e.loop()
	return nil
}

// Stop cancels the pending timer and waits for an in-flight cycle to finish.
// A cycle is never interrupted mid-step; stop takes effect before the next
// cycle starts. Stopping a stopped engine is a no-op.
func (e *CycleEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	<-done
	e.deps.Logger.Info("Trading engine stopped", zap.String("account_id", e.accountID))
}

func (e *CycleEngine) loop() {
	defer close(e.doneCh)
	for {
		interval := e.RunCycle(context.Background())

		timer := time.NewTimer(interval)
		select {
		case <-e.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle executes one full trading cycle and returns the pause before the
// next one. The interval is re-read from configuration each cycle, so config
// edits take effect on the next iteration, never mid-cycle.
func (e *CycleEngine) RunCycle(ctx context.Context) time.Duration {
	cfg, err := e.deps.Config.LoadConfig(ctx, e.accountID)
	if err != nil {
		// Configuration trouble aborts this cycle only; the scheduler
		// still reschedules.
		e.deps.Logger.Error("Cycle aborted: failed to load configuration",
			zap.Error(err),
			zap.String("account_id", e.accountID))
		e.deps.Events.Emit(ctx, domain.ActivityEvent{
			AccountID: e.accountID,
			Type:      domain.EventSystemError,
			Message:   "Cycle aborted: configuration load failed",
			Details:   map[string]interface{}{"error": err.Error()},
		})
		return e.lastInterval
	}
	e.lastInterval = cfg.Interval()

	if !cfg.IsActive {
		e.deps.Logger.Info("Configuration inactive, skipping cycle",
			zap.String("account_id", e.accountID))
		return e.lastInterval
	}

	if err := cfg.Validate(); err != nil {
		e.deps.Logger.Error("Cycle aborted: invalid configuration",
			zap.Error(err),
			zap.String("account_id", e.accountID))
		return e.lastInterval
	}

	e.reconciler.Reconcile(ctx, cfg)
	e.reconciler.AuditSweep(ctx, cfg)

	for _, symbol := range cfg.Symbols {
		e.processSymbol(ctx, cfg, symbol)
	}

	e.monitor.Check(ctx, cfg)

	if now := e.deps.Clock.Now(); e.eod.Due(now, cfg) {
		e.eod.RunScheduled(ctx, now, cfg)
	}

	if open, err := e.deps.Positions.ListOpenPositions(ctx, e.accountID); err == nil {
		metrics.SetOpenPositions(e.accountID, len(open))
	}
	metrics.CycleCompleted(e.accountID)

	return e.lastInterval
}

// processSymbol runs ingestion → detection → signal → execution for one
// symbol. Any error stops this symbol only; the cycle moves on.
func (e *CycleEngine) processSymbol(ctx context.Context, cfg *domain.TradingConfiguration, symbol string) {
	price, err := e.deps.Exchange.GetMarketPrice(ctx, symbol)
	if err != nil {
		e.deps.Logger.Warn("Skipping symbol: price unavailable",
			zap.Error(err),
			zap.String("symbol", symbol))
		return
	}

	sample := &domain.MarketSample{
		Symbol:    symbol,
		Price:     price,
		Timestamp: e.deps.Clock.Now(),
	}
	if err := e.deps.Samples.SaveSample(ctx, sample); err != nil {
		e.deps.Logger.Warn("Failed to store market sample",
			zap.Error(err),
			zap.String("symbol", symbol))
		return
	}
	if err := e.deps.Samples.PruneSamples(ctx, symbol, cfg.SupportCandleCount); err != nil {
		e.deps.Logger.Warn("Failed to prune market samples",
			zap.Error(err),
			zap.String("symbol", symbol))
	}

	samples, err := e.deps.Samples.RecentSamples(ctx, symbol, cfg.SupportCandleCount)
	if err != nil {
		e.deps.Logger.Warn("Skipping symbol: sample window unavailable",
			zap.Error(err),
			zap.String("symbol", symbol))
		return
	}

	support := e.detector.Detect(samples)
	if support == nil {
		return
	}

	sig, err := e.generator.Generate(ctx, cfg, symbol, support, price)
	if err != nil {
		e.deps.Logger.Warn("Skipping symbol: signal generation failed",
			zap.Error(err),
			zap.String("symbol", symbol))
		return
	}
	if sig == nil {
		return
	}

	if err := e.deps.Signals.SaveSignal(ctx, sig); err != nil {
		e.deps.Logger.Error("Failed to persist signal",
			zap.Error(err),
			zap.String("symbol", symbol))
		return
	}
	metrics.SignalGenerated(symbol)

	if err := e.placer.Place(ctx, cfg, sig); err != nil {
		e.deps.Logger.Error("Failed to execute signal",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("signal_id", sig.ID))
	}
}

// ClosePositionAtMarket manually closes one position through the same
// closure path the monitor and EOD manager use.
func (e *CycleEngine) ClosePositionAtMarket(ctx context.Context, positionID string) error {
	pos, err := e.deps.Positions.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("load position %s: %w", positionID, err)
	}
	price, err := e.deps.Exchange.GetMarketPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("price for %s: %w", pos.Symbol, err)
	}
	return e.closer.CloseAtMarket(ctx, pos, price, "manual")
}

// SimulateEndOfDay forces an end-of-day evaluation immediately, bypassing the
// time gate. forceProfit additionally relaxes the premium threshold to "any
// positive profit".
func (e *CycleEngine) SimulateEndOfDay(ctx context.Context, forceProfit bool) error {
	cfg, err := e.deps.Config.LoadConfig(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("load config for %s: %w", e.accountID, err)
	}
	e.eod.Run(ctx, e.deps.Clock.Now(), cfg, forceProfit)
	return nil
}
