package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

// EndOfDayManager force-evaluates filled positions against the configured
// end-of-day profit threshold. It is triggered once per day past the
// configured hour, or on demand through a simulation request that bypasses
// the time gate.
//
// The threshold is a minimum required profit: positions below it stay open.
// The loss-tolerant behavior some operators want is the explicit
// EODCloseIncludeLosses configuration mode, which closes every filled
// position regardless of sign.
type EndOfDayManager struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	closer    *PositionCloser
	events    domain.EventSink
	logger    *zap.Logger

	mu      sync.Mutex
	lastDay string // YYYY-MM-DD of the last scheduled run
}

func NewEndOfDayManager(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	closer *PositionCloser,
	events domain.EventSink,
	logger *zap.Logger,
) *EndOfDayManager {
	return &EndOfDayManager{
		exchange:  exchange,
		positions: positions,
		closer:    closer,
		events:    events,
		logger:    logger,
	}
}

// Due reports whether the scheduled run should fire now: auto-close enabled,
// past the configured UTC hour, and not already run today.
func (m *EndOfDayManager) Due(now time.Time, cfg *domain.TradingConfiguration) bool {
	if !cfg.AutoCloseAtEndOfDay {
		return false
	}
	utc := now.UTC()
	if utc.Hour() < cfg.EODCloseHourUTC {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDay != utc.Format("2006-01-02")
}

// RunScheduled is the daily trigger path: it records now's date so the
// schedule fires at most once per day, then evaluates with the standard
// threshold semantics.
func (m *EndOfDayManager) RunScheduled(ctx context.Context, now time.Time, cfg *domain.TradingConfiguration) {
	m.mu.Lock()
	m.lastDay = now.UTC().Format("2006-01-02")
	m.mu.Unlock()

	m.Run(ctx, now, cfg, false)
}

// Run evaluates every filled position. It never touches the daily latch, so
// an on-demand simulation cannot suppress that day's scheduled auto-close.
// forceProfit switches to the forced-simulation semantics: close anything
// with positive absolute profit instead of requiring the premium threshold.
func (m *EndOfDayManager) Run(ctx context.Context, now time.Time, cfg *domain.TradingConfiguration, forceProfit bool) {
	filled, err := m.positions.ListPositionsByStatus(ctx, cfg.AccountID, domain.PositionFilled)
	if err != nil {
		m.logger.Error("EOD failed to list filled positions", zap.Error(err))
		return
	}

	m.logger.Info("End-of-day evaluation started",
		zap.String("account_id", cfg.AccountID),
		zap.Int("positions", len(filled)),
		zap.Float64("threshold_pct", cfg.EODClosePremiumPercent),
		zap.Bool("force_profit", forceProfit),
		zap.Bool("include_losses", cfg.EODCloseIncludeLosses))

	for _, pos := range filled {
		if pos.Side != domain.SideBuy {
			continue
		}

		price, err := m.exchange.GetMarketPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn("EOD could not fetch price, keeping position",
				zap.Error(err),
				zap.String("symbol", pos.Symbol))
			continue
		}

		profitPct := (price - pos.Price) / pos.Price * 100

		shouldClose := profitPct >= cfg.EODClosePremiumPercent
		if forceProfit {
			shouldClose = profitPct > 0
		}
		if cfg.EODCloseIncludeLosses {
			shouldClose = true
		}

		if !shouldClose {
			m.logger.Info("EOD: position kept open below threshold",
				zap.String("symbol", pos.Symbol),
				zap.String("position_id", pos.ID),
				zap.Float64("profit_pct", profitPct),
				zap.Float64("threshold_pct", cfg.EODClosePremiumPercent))
			m.events.Emit(ctx, domain.ActivityEvent{
				AccountID: pos.AccountID,
				Type:      domain.EventPositionKeptOpen,
				Symbol:    pos.Symbol,
				Message:   "Position kept open at end of day",
				Details: map[string]interface{}{
					"position_id":   pos.ID,
					"profit_pct":    profitPct,
					"threshold_pct": cfg.EODClosePremiumPercent,
				},
			})
			continue
		}

		if err := m.closer.CloseAtMarket(ctx, pos, price, "end_of_day"); err != nil {
			if errors.Is(err, domain.ErrValidationRejected) {
				m.logger.Info("EOD close failed validation, keeping position",
					zap.String("position_id", pos.ID),
					zap.Error(err))
				continue
			}
			m.logger.Error("EOD close failed",
				zap.Error(err),
				zap.String("position_id", pos.ID))
		}
	}
}
