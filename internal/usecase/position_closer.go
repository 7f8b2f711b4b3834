package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/metrics"
	"go.uber.org/zap"
)

// PositionCloser centralizes closure mechanics: the position monitor, the
// end-of-day manager and manual admin closes all go through CloseAtMarket so
// PnL accounting and take-profit cleanup behave identically everywhere.
type PositionCloser struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	sizer     *PositionSizer
	events    domain.EventSink
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewPositionCloser(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	sizer *PositionSizer,
	events domain.EventSink,
	logger *zap.Logger,
) *PositionCloser {
	return &PositionCloser{
		exchange:  exchange,
		positions: positions,
		sizer:     sizer,
		events:    events,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// CloseAtMarket sells the full position quantity at market and transitions it
// to closed with recorded profit/loss. The close order is re-validated
// against instrument minimums first; a validation rejection bubbles up so the
// caller can retry next cycle.
func (c *PositionCloser) CloseAtMarket(
	ctx context.Context,
	pos *domain.Position,
	currentPrice float64,
	reason string,
) error {
	if pos.Status != domain.PositionFilled {
		return fmt.Errorf("position %s is %s, only filled positions close", pos.ID, pos.Status)
	}

	if err := c.sizer.ValidateClose(ctx, pos.Symbol, pos.Quantity, currentPrice); err != nil {
		return fmt.Errorf("close validation for %s: %w", pos.ID, err)
	}

	// A still-resting take-profit would double-sell once we market out. If
	// its status cannot be confirmed, abort and let the caller retry next
	// cycle rather than risk two live sells for the full quantity.
	if pos.TakeProfitOrderID != "" {
		status, err := c.exchange.GetOrderStatus(ctx, pos.Symbol, pos.TakeProfitOrderID)
		if err != nil {
			return fmt.Errorf("take-profit status for %s: %w", pos.TakeProfitOrderID, err)
		}
		if status.Live() {
			if err := c.exchange.CancelOrder(ctx, pos.Symbol, pos.TakeProfitOrderID); err != nil {
				return fmt.Errorf("cancel resting take-profit %s: %w", pos.TakeProfitOrderID, err)
			}
		}
	}

	result, err := c.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   pos.Symbol,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeMarket,
		Quantity: pos.Quantity,
	})
	if err != nil {
		metrics.OrderFailed(pos.Symbol)
		c.events.Emit(ctx, domain.ActivityEvent{
			AccountID: pos.AccountID,
			Type:      domain.EventOrderFailed,
			Symbol:    pos.Symbol,
			Message:   "Market close failed",
			Details: map[string]interface{}{
				"position_id": pos.ID,
				"reason":      reason,
				"error":       err.Error(),
			},
		})
		return fmt.Errorf("market sell for %s: %w", pos.ID, err)
	}

	exitPrice := result.AvgPrice
	if exitPrice <= 0 {
		exitPrice = currentPrice
	}

	pos.Status = domain.PositionClosed
	pos.ProfitLoss = (exitPrice - pos.Price) * pos.Quantity
	pos.UpdatedAt = c.timeNow()
	if err := c.positions.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("record closure of %s: %w", pos.ID, err)
	}

	metrics.OrderPlaced(pos.Symbol, string(domain.SideSell), "close")
	metrics.PositionClosed(reason)
	c.logger.Info("Position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("position_id", pos.ID),
		zap.String("reason", reason),
		zap.Float64("entry_price", pos.Price),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("profit_loss", pos.ProfitLoss))
	c.events.Emit(ctx, domain.ActivityEvent{
		AccountID: pos.AccountID,
		Type:      domain.EventPositionClosed,
		Symbol:    pos.Symbol,
		Message:   fmt.Sprintf("Position closed (%s)", reason),
		Details: map[string]interface{}{
			"position_id": pos.ID,
			"reason":      reason,
			"entry_price": pos.Price,
			"exit_price":  exitPrice,
			"quantity":    pos.Quantity,
			"profit_loss": pos.ProfitLoss,
		},
	})
	return nil
}
