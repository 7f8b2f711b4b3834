package usecase

import (
	"context"
	"errors"

	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

// PositionMonitor is the polling take-profit path. It only acts when the
// account is configured with TakeProfitMode "monitor"; otherwise the resting
// limit sell placed by the order placer is authoritative and the monitor
// stays out of the way.
type PositionMonitor struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	closer    *PositionCloser
	logger    *zap.Logger
}

func NewPositionMonitor(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	closer *PositionCloser,
	logger *zap.Logger,
) *PositionMonitor {
	return &PositionMonitor{
		exchange:  exchange,
		positions: positions,
		closer:    closer,
		logger:    logger,
	}
}

// Check computes live profit for every filled position and closes the ones
// that reached the configured take-profit percentage. A validation rejection
// on the close order is transient: the position is skipped this cycle and
// retried on the next one.
func (m *PositionMonitor) Check(ctx context.Context, cfg *domain.TradingConfiguration) {
	if cfg.TakeProfitMode != domain.TakeProfitModeMonitor {
		return
	}

	filled, err := m.positions.ListPositionsByStatus(ctx, cfg.AccountID, domain.PositionFilled)
	if err != nil {
		m.logger.Error("Monitor failed to list filled positions", zap.Error(err))
		return
	}

	for _, pos := range filled {
		if pos.Side != domain.SideBuy {
			continue
		}

		price, err := m.exchange.GetMarketPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn("Monitor could not fetch price, retrying next cycle",
				zap.Error(err),
				zap.String("symbol", pos.Symbol))
			continue
		}

		profitPct := (price - pos.Price) / pos.Price * 100
		if profitPct < cfg.TakeProfitPercent {
			continue
		}

		m.logger.Info("Take-profit target reached, closing at market",
			zap.String("symbol", pos.Symbol),
			zap.String("position_id", pos.ID),
			zap.Float64("profit_pct", profitPct),
			zap.Float64("target_pct", cfg.TakeProfitPercent))

		if err := m.closer.CloseAtMarket(ctx, pos, price, "take_profit"); err != nil {
			if errors.Is(err, domain.ErrValidationRejected) {
				m.logger.Info("Close order failed validation, will retry next cycle",
					zap.String("position_id", pos.ID),
					zap.Error(err))
				continue
			}
			m.logger.Error("Failed to close position at take-profit",
				zap.Error(err),
				zap.String("position_id", pos.ID))
		}
	}
}
