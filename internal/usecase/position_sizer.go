package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/vitos/spot_support_bot/internal/domain"
)

// Rounding slack on the budget check. Quantity is always rounded down, so the
// order value can only undershoot the budget; the tolerance covers float
// noise from tick-size snapping.
const budgetTolerance = 0.001

// RejectionError is a sizing verdict, not a failure. It unwraps to
// domain.ErrValidationRejected so callers can branch with errors.Is.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error { return domain.ErrValidationRejected }

// SizedOrder is a validated, exchange-legal order specification.
type SizedOrder struct {
	Symbol   string
	Quantity float64
	Price    float64
	Notional float64
}

// PositionSizer converts a signal target price and the configured budget into
// an order that satisfies the instrument constraints.
type PositionSizer struct {
	instruments *InstrumentCache
}

func NewPositionSizer(instruments *InstrumentCache) *PositionSizer {
	return &PositionSizer{instruments: instruments}
}

// Size computes the order quantity for the budget. Quantity is rounded DOWN
// to the lot step, never up: the configured budget is a hard ceiling.
func (s *PositionSizer) Size(ctx context.Context, symbol string, targetPrice, maxUSD float64) (*SizedOrder, error) {
	info, err := s.instruments.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument info for %s: %w", symbol, err)
	}

	price := snapToStep(targetPrice, info.TickSize)
	if price <= 0 {
		return nil, &RejectionError{
			Reason: domain.RejectBelowMinimumNotional,
			Detail: fmt.Sprintf("target price %f collapses to zero at tick size %f", targetPrice, info.TickSize),
		}
	}

	rawQty := maxUSD / price
	qty := snapToStep(rawQty, info.LotStep)

	if qty < info.MinQty || qty <= 0 {
		return nil, &RejectionError{
			Reason: domain.RejectBelowMinimumQuantity,
			Detail: fmt.Sprintf("rounded quantity %f below minimum %f", qty, info.MinQty),
		}
	}

	notional := price * qty
	if notional < info.MinNotional {
		return nil, &RejectionError{
			Reason: domain.RejectBelowMinimumNotional,
			Detail: fmt.Sprintf("order value %f below minimum notional %f", notional, info.MinNotional),
		}
	}
	if notional > maxUSD*(1+budgetTolerance) {
		return nil, &RejectionError{
			Reason: domain.RejectExceedsMaxOrderValue,
			Detail: fmt.Sprintf("order value %f exceeds budget %f", notional, maxUSD),
		}
	}

	return &SizedOrder{
		Symbol:   symbol,
		Quantity: qty,
		Price:    price,
		Notional: notional,
	}, nil
}

// ValidateClose re-checks a close order against the instrument minimums.
// A failure here means "skip this cycle, retry next", not a fatal error.
func (s *PositionSizer) ValidateClose(ctx context.Context, symbol string, quantity, price float64) error {
	info, err := s.instruments.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("instrument info for %s: %w", symbol, err)
	}
	if quantity < info.MinQty {
		return &RejectionError{
			Reason: domain.RejectBelowMinimumQuantity,
			Detail: fmt.Sprintf("close quantity %f below minimum %f", quantity, info.MinQty),
		}
	}
	if price*quantity < info.MinNotional {
		return &RejectionError{
			Reason: domain.RejectBelowMinimumNotional,
			Detail: fmt.Sprintf("close value %f below minimum notional %f", price*quantity, info.MinNotional),
		}
	}
	return nil
}

// SnapPrice aligns a price to the symbol's tick size.
func (s *PositionSizer) SnapPrice(ctx context.Context, symbol string, price float64) (float64, error) {
	info, err := s.instruments.Get(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("instrument info for %s: %w", symbol, err)
	}
	return snapToStep(price, info.TickSize), nil
}

// snapToStep rounds value down to an exact multiple of step. The epsilon
// keeps exact multiples from slipping a whole step on float error.
func snapToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + 1e-9)
	return steps * step
}
