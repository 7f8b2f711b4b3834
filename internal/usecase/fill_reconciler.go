package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/metrics"
	"go.uber.org/zap"
)

// FillReconciler aligns locally tracked positions with exchange truth. It
// runs every cycle over pending entries, transitions them on fill or cancel,
// and owns the guaranteed take-profit invariant: no filled buy may persist
// without either a resting sell order or a recorded closure. Its audit sweep
// repairs gaps the happy path left behind.
type FillReconciler struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	sizer     *PositionSizer
	events    domain.EventSink
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewFillReconciler(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	sizer *PositionSizer,
	events domain.EventSink,
	logger *zap.Logger,
) *FillReconciler {
	return &FillReconciler{
		exchange:  exchange,
		positions: positions,
		sizer:     sizer,
		events:    events,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Reconcile polls the exchange for every pending position. Errors on one
// position never block the rest.
func (r *FillReconciler) Reconcile(ctx context.Context, cfg *domain.TradingConfiguration) {
	pending, err := r.positions.ListPositionsByStatus(ctx, cfg.AccountID, domain.PositionPending)
	if err != nil {
		r.logger.Error("Failed to list pending positions", zap.Error(err))
		return
	}

	for _, pos := range pending {
		if err := r.reconcileOne(ctx, cfg, pos); err != nil {
			r.logger.Error("Failed to reconcile position",
				zap.Error(err),
				zap.String("symbol", pos.Symbol),
				zap.String("position_id", pos.ID))
		}
	}
}

func (r *FillReconciler) reconcileOne(ctx context.Context, cfg *domain.TradingConfiguration, pos *domain.Position) error {
	status, err := r.exchange.GetOrderStatus(ctx, pos.Symbol, pos.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("order status %s: %w", pos.ExchangeOrderID, err)
	}

	switch status.Status {
	case domain.OrderStateFilled:
		// Exchange-reported values win over what we asked for; partial
		// fills and price improvement both land here.
		if status.AvgPrice > 0 {
			pos.Price = status.AvgPrice
		}
		if status.ExecQty > 0 {
			pos.Quantity = status.ExecQty
		}
		pos.Status = domain.PositionFilled
		pos.UpdatedAt = r.timeNow()
		if err := r.positions.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("record fill of %s: %w", pos.ID, err)
		}
		r.events.Emit(ctx, domain.ActivityEvent{
			AccountID: pos.AccountID,
			Type:      domain.EventTradeFilled,
			Symbol:    pos.Symbol,
			Message:   "Entry order filled",
			Details: map[string]interface{}{
				"position_id": pos.ID,
				"avg_price":   pos.Price,
				"exec_qty":    pos.Quantity,
			},
		})
		// Primary enforcement point of the guaranteed take-profit invariant.
		if err := r.ensureTakeProfit(ctx, cfg, pos); err != nil {
			r.logger.Warn("Take-profit not established on fill, audit sweep will retry",
				zap.Error(err),
				zap.String("position_id", pos.ID))
		}
		return nil

	case domain.OrderStateCancelled, domain.OrderStateRejected:
		pos.Status = domain.PositionCancelled
		pos.UpdatedAt = r.timeNow()
		if err := r.positions.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("record cancellation of %s: %w", pos.ID, err)
		}
		// An optimistically placed take-profit has nothing to sell now.
		if pos.TakeProfitOrderID != "" {
			if err := r.exchange.CancelOrder(ctx, pos.Symbol, pos.TakeProfitOrderID); err != nil {
				r.logger.Warn("Failed to cancel orphaned take-profit",
					zap.Error(err),
					zap.String("position_id", pos.ID),
					zap.String("tp_order_id", pos.TakeProfitOrderID))
			}
		}
		r.events.Emit(ctx, domain.ActivityEvent{
			AccountID: pos.AccountID,
			Type:      domain.EventOrderFailed,
			Symbol:    pos.Symbol,
			Message:   "Entry order cancelled by exchange",
			Details:   map[string]interface{}{"position_id": pos.ID, "exchange_status": status.Status},
		})
		return nil

	default:
		// Still resting; nothing to do this cycle.
		return nil
	}
}

// AuditSweep repairs filled buy positions that violate the guaranteed
// take-profit invariant. When recovery fails too, the condition is surfaced
// at CRITICAL severity for manual intervention; it is never dropped.
func (r *FillReconciler) AuditSweep(ctx context.Context, cfg *domain.TradingConfiguration) {
	if cfg.TakeProfitMode != domain.TakeProfitModeResting {
		// In monitor mode the position monitor owns the exit; a resting
		// sell here would risk closing the position twice.
		return
	}

	filled, err := r.positions.ListPositionsByStatus(ctx, cfg.AccountID, domain.PositionFilled)
	if err != nil {
		r.logger.Error("Audit sweep failed to list filled positions", zap.Error(err))
		return
	}

	for _, pos := range filled {
		if pos.Side != domain.SideBuy {
			continue
		}
		if err := r.ensureTakeProfit(ctx, cfg, pos); err != nil {
			metrics.CriticalFailure()
			r.events.Emit(ctx, domain.ActivityEvent{
				AccountID: pos.AccountID,
				Type:      domain.EventSystemError,
				Symbol:    pos.Symbol,
				Message:   "Filled position has no take-profit and recovery failed: manual intervention required",
				Details: map[string]interface{}{
					"severity":    "critical",
					"position_id": pos.ID,
					"entry_price": pos.Price,
					"quantity":    pos.Quantity,
					"error":       err.Error(),
				},
			})
		}
	}
}

// ensureTakeProfit verifies the linked take-profit order is resolvable and
// creates it when absent. A take-profit found filled closes the position with
// its realized profit.
func (r *FillReconciler) ensureTakeProfit(ctx context.Context, cfg *domain.TradingConfiguration, pos *domain.Position) error {
	if cfg.TakeProfitMode != domain.TakeProfitModeResting {
		return nil
	}

	if pos.TakeProfitOrderID != "" {
		status, err := r.exchange.GetOrderStatus(ctx, pos.Symbol, pos.TakeProfitOrderID)
		if err != nil {
			return fmt.Errorf("take-profit status %s: %w", pos.TakeProfitOrderID, err)
		}
		switch {
		case status.Live():
			return nil
		case status.Status == domain.OrderStateFilled:
			return r.closeOnTakeProfitFill(ctx, pos, status)
		default:
			// Cancelled or rejected on the exchange side; recreate below.
			r.logger.Warn("Linked take-profit no longer live, recreating",
				zap.String("position_id", pos.ID),
				zap.String("tp_status", status.Status))
			pos.TakeProfitOrderID = ""
		}
	}

	tpPrice := pos.TakeProfitPrice
	if tpPrice <= 0 {
		tpPrice = pos.Price * (1 + cfg.TakeProfitPercent/100)
		if snapped, err := r.sizer.SnapPrice(ctx, pos.Symbol, tpPrice); err == nil && snapped > 0 {
			tpPrice = snapped
		}
	}

	result, err := r.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        domain.SideSell,
		Type:        domain.OrderTypeLimit,
		Quantity:    pos.Quantity,
		Price:       tpPrice,
		TimeInForce: "GTC",
	})
	if err != nil {
		return fmt.Errorf("recovery take-profit for %s: %w", pos.ID, err)
	}

	pos.TakeProfitOrderID = result.OrderID
	pos.TakeProfitPrice = tpPrice
	pos.UpdatedAt = r.timeNow()
	if err := r.positions.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("record recovered take-profit on %s: %w", pos.ID, err)
	}

	metrics.OrderPlaced(pos.Symbol, string(domain.SideSell), "take_profit")
	metrics.TakeProfitRecovered()
	r.events.Emit(ctx, domain.ActivityEvent{
		AccountID: pos.AccountID,
		Type:      domain.EventOrderPlaced,
		Symbol:    pos.Symbol,
		Message:   "Take-profit established by reconciler",
		Details: map[string]interface{}{
			"position_id":          pos.ID,
			"take_profit_order_id": result.OrderID,
			"tp_price":             tpPrice,
			"quantity":             pos.Quantity,
		},
	})
	return nil
}

func (r *FillReconciler) closeOnTakeProfitFill(ctx context.Context, pos *domain.Position, status *domain.OrderStatus) error {
	exitPrice := status.AvgPrice
	if exitPrice <= 0 {
		exitPrice = pos.TakeProfitPrice
	}
	pos.Status = domain.PositionClosed
	pos.ProfitLoss = (exitPrice - pos.Price) * pos.Quantity
	pos.UpdatedAt = r.timeNow()
	if err := r.positions.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("record take-profit closure of %s: %w", pos.ID, err)
	}
	metrics.PositionClosed("take_profit")
	r.events.Emit(ctx, domain.ActivityEvent{
		AccountID: pos.AccountID,
		Type:      domain.EventPositionClosed,
		Symbol:    pos.Symbol,
		Message:   "Position closed by resting take-profit",
		Details: map[string]interface{}{
			"position_id": pos.ID,
			"entry_price": pos.Price,
			"exit_price":  exitPrice,
			"profit_loss": pos.ProfitLoss,
		},
	})
	return nil
}
