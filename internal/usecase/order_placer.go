package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/metrics"
	"go.uber.org/zap"
)

// OrderPlacer executes validated signals: it places the entry limit buy,
// records the pending position, and immediately pairs the entry with a
// resting take-profit sell. Every signal handed to Place ends up processed,
// whatever the outcome, so the same signal is never executed twice.
type OrderPlacer struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	signals   domain.SignalRepository
	sizer     *PositionSizer
	events    domain.EventSink
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewOrderPlacer(
	exchange domain.Exchange,
	positions domain.PositionRepository,
	signals domain.SignalRepository,
	sizer *PositionSizer,
	events domain.EventSink,
	logger *zap.Logger,
) *OrderPlacer {
	return &OrderPlacer{
		exchange:  exchange,
		positions: positions,
		signals:   signals,
		sizer:     sizer,
		events:    events,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Place sizes and executes one signal. Validation rejections and exchange
// refusals are designed outcomes: the signal is marked processed with the
// reason and no position is created. Only collaborator failures (storage,
// instrument lookup) surface as errors.
func (p *OrderPlacer) Place(ctx context.Context, cfg *domain.TradingConfiguration, sig *domain.Signal) error {
	if sig.Processed {
		// At-most-once execution per signal.
		return nil
	}

	sized, err := p.sizer.Size(ctx, sig.Symbol, sig.TargetPrice, cfg.MaxOrderAmountUSD)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			return p.rejectSignal(ctx, sig, rej)
		}
		return fmt.Errorf("size signal %s: %w", sig.ID, err)
	}

	result, err := p.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      sig.Symbol,
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		Quantity:    sized.Quantity,
		Price:       sized.Price,
		TimeInForce: "GTC",
	})
	if err != nil {
		// The exchange said no. Mark the signal processed so this exact
		// order is not retried; fresh cycles will re-signal if the setup
		// still holds.
		p.logger.Warn("Entry order rejected by exchange",
			zap.Error(err),
			zap.String("symbol", sig.Symbol),
			zap.Float64("price", sized.Price),
			zap.Float64("quantity", sized.Quantity))
		metrics.OrderFailed(sig.Symbol)
		p.events.Emit(ctx, domain.ActivityEvent{
			AccountID: sig.AccountID,
			Type:      domain.EventOrderRejected,
			Symbol:    sig.Symbol,
			Message:   "Entry order rejected by exchange",
			Details: map[string]interface{}{
				"signal_id": sig.ID,
				"price":     sized.Price,
				"quantity":  sized.Quantity,
				"error":     err.Error(),
			},
		})
		return p.markProcessed(ctx, sig, domain.RejectExchangeError)
	}

	now := p.timeNow()
	pos := &domain.Position{
		ID:              uuid.NewString(),
		AccountID:       sig.AccountID,
		Symbol:          sig.Symbol,
		Side:            domain.SideBuy,
		OrderType:       domain.OrderTypeLimit,
		Price:           sized.Price,
		Quantity:        sized.Quantity,
		Status:          domain.PositionPending,
		ExchangeOrderID: result.OrderID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.positions.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save position for order %s: %w", result.OrderID, err)
	}

	metrics.OrderPlaced(sig.Symbol, string(domain.SideBuy), "entry")
	p.events.Emit(ctx, domain.ActivityEvent{
		AccountID: sig.AccountID,
		Type:      domain.EventOrderPlaced,
		Symbol:    sig.Symbol,
		Message:   "Entry limit buy placed",
		Details: map[string]interface{}{
			"position_id":       pos.ID,
			"exchange_order_id": result.OrderID,
			"price":             sized.Price,
			"quantity":          sized.Quantity,
			"notional":          sized.Notional,
			"confidence":        sig.Confidence,
		},
	})
	p.events.Emit(ctx, domain.ActivityEvent{
		AccountID: sig.AccountID,
		Type:      domain.EventTradeExecuted,
		Symbol:    sig.Symbol,
		Message:   fmt.Sprintf("Signal executed: buy %f %s @ %f", sized.Quantity, sig.Symbol, sized.Price),
		Details:   map[string]interface{}{"signal_id": sig.ID, "position_id": pos.ID},
	})

	// Pair the entry with its take-profit right away. A failure here is
	// logged and left for the reconciler's audit sweep; the buy stands.
	p.placeTakeProfit(ctx, cfg, pos)

	return p.markProcessed(ctx, sig, "")
}

// placeTakeProfit attempts the resting limit sell for a position. The target
// is derived from the position's (possibly fill-adjusted) entry price.
func (p *OrderPlacer) placeTakeProfit(ctx context.Context, cfg *domain.TradingConfiguration, pos *domain.Position) {
	if cfg.TakeProfitMode != domain.TakeProfitModeResting {
		return
	}

	tpPrice := pos.Price * (1 + cfg.TakeProfitPercent/100)
	if snapped, err := p.sizer.SnapPrice(ctx, pos.Symbol, tpPrice); err == nil && snapped > 0 {
		tpPrice = snapped
	}

	result, err := p.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        domain.SideSell,
		Type:        domain.OrderTypeLimit,
		Quantity:    pos.Quantity,
		Price:       tpPrice,
		TimeInForce: "GTC",
	})
	if err != nil {
		p.logger.Warn("Take-profit placement failed, reconciler will retry",
			zap.Error(err),
			zap.String("symbol", pos.Symbol),
			zap.String("position_id", pos.ID),
			zap.Float64("tp_price", tpPrice))
		metrics.OrderFailed(pos.Symbol)
		p.events.Emit(ctx, domain.ActivityEvent{
			AccountID: pos.AccountID,
			Type:      domain.EventOrderFailed,
			Symbol:    pos.Symbol,
			Message:   "Take-profit placement failed",
			Details: map[string]interface{}{
				"position_id": pos.ID,
				"tp_price":    tpPrice,
				"error":       err.Error(),
			},
		})
		return
	}

	pos.TakeProfitOrderID = result.OrderID
	pos.TakeProfitPrice = tpPrice
	pos.UpdatedAt = p.timeNow()
	if err := p.positions.UpdatePosition(ctx, pos); err != nil {
		p.logger.Error("Failed to record take-profit order id",
			zap.Error(err),
			zap.String("position_id", pos.ID))
		return
	}

	metrics.OrderPlaced(pos.Symbol, string(domain.SideSell), "take_profit")
	p.events.Emit(ctx, domain.ActivityEvent{
		AccountID: pos.AccountID,
		Type:      domain.EventOrderPlaced,
		Symbol:    pos.Symbol,
		Message:   "Take-profit limit sell placed",
		Details: map[string]interface{}{
			"position_id":          pos.ID,
			"take_profit_order_id": result.OrderID,
			"tp_price":             tpPrice,
			"quantity":             pos.Quantity,
		},
	})
}

func (p *OrderPlacer) rejectSignal(ctx context.Context, sig *domain.Signal, rej *RejectionError) error {
	metrics.SignalRejected(sig.Symbol)
	p.events.Emit(ctx, domain.ActivityEvent{
		AccountID: sig.AccountID,
		Type:      domain.EventSignalRejected,
		Symbol:    sig.Symbol,
		Message:   "Signal rejected by sizing validation",
		Details: map[string]interface{}{
			"signal_id":    sig.ID,
			"reason":       rej.Reason,
			"detail":       rej.Detail,
			"target_price": sig.TargetPrice,
		},
	})
	return p.markProcessed(ctx, sig, rej.Reason)
}

func (p *OrderPlacer) markProcessed(ctx context.Context, sig *domain.Signal, rejectReason string) error {
	sig.Processed = true
	sig.RejectReason = rejectReason
	if err := p.signals.UpdateSignal(ctx, sig); err != nil {
		return fmt.Errorf("mark signal %s processed: %w", sig.ID, err)
	}
	p.events.Emit(ctx, domain.ActivityEvent{
		AccountID: sig.AccountID,
		Type:      domain.EventSignalProcessed,
		Symbol:    sig.Symbol,
		Message:   "Signal processed",
		Details:   map[string]interface{}{"signal_id": sig.ID, "reject_reason": rejectReason},
	})
	return nil
}
