package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/usecase"
	"go.uber.org/zap"
)

type monitorFixture struct {
	exchange  *MockExchange
	positions *MemPositionRepo
	sink      *RecordingSink
	monitor   *usecase.PositionMonitor
}

func newMonitorFixture() *monitorFixture {
	ex := NewMockExchange()
	positions := NewMemPositionRepo()
	sink := &RecordingSink{}
	sizer := usecase.NewPositionSizer(usecase.NewInstrumentCache(ex, 0))
	closer := usecase.NewPositionCloser(ex, positions, sizer, sink, zap.NewNop())
	return &monitorFixture{
		exchange:  ex,
		positions: positions,
		sink:      sink,
		monitor:   usecase.NewPositionMonitor(ex, positions, closer, zap.NewNop()),
	}
}

func filledPosition(id string, entryPrice float64) *domain.Position {
	return &domain.Position{
		ID:        id,
		AccountID: "acc-1",
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Price:     entryPrice,
		Quantity:  1.0,
		Status:    domain.PositionFilled,
	}
}

func TestPositionMonitor_ClosesAtTarget(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	require.NoError(t, f.positions.SavePosition(ctx, filledPosition("p1", 100.0)))

	cfg := testConfig()
	cfg.TakeProfitMode = domain.TakeProfitModeMonitor // target 1%
	f.exchange.Prices["BTCUSDT"] = 101.5
	f.exchange.PlaceResults = []*domain.OrderResult{
		{OrderID: "close-1", Status: domain.OrderStateFilled, AvgPrice: 101.5, ExecQty: 1.0},
	}

	f.monitor.Check(ctx, cfg)

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.Status)
	assert.InDelta(t, 1.5, got.ProfitLoss, 1e-9)

	require.Len(t, f.exchange.Placed, 1)
	assert.Equal(t, domain.OrderTypeMarket, f.exchange.Placed[0].Type)
	assert.Equal(t, domain.SideSell, f.exchange.Placed[0].Side)
}

func TestPositionMonitor_BelowTargetStaysOpen(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	require.NoError(t, f.positions.SavePosition(ctx, filledPosition("p1", 100.0)))

	cfg := testConfig()
	cfg.TakeProfitMode = domain.TakeProfitModeMonitor
	f.exchange.Prices["BTCUSDT"] = 100.5 // 0.5% < 1% target

	f.monitor.Check(ctx, cfg)

	got, _ := f.positions.GetPosition(ctx, "p1")
	assert.Equal(t, domain.PositionFilled, got.Status)
	assert.Empty(t, f.exchange.Placed)
}

func TestPositionMonitor_RestingModeIsInert(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	require.NoError(t, f.positions.SavePosition(ctx, filledPosition("p1", 100.0)))

	cfg := testConfig() // resting mode
	f.exchange.Prices["BTCUSDT"] = 110.0

	f.monitor.Check(ctx, cfg)

	got, _ := f.positions.GetPosition(ctx, "p1")
	assert.Equal(t, domain.PositionFilled, got.Status, "resting take-profit owns the exit")
	assert.Empty(t, f.exchange.Placed)
}

func TestPositionMonitor_ValidationRejectionRetriesNextCycle(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()
	pos := filledPosition("p1", 100.0)
	pos.Quantity = 0.005 // below MinQty 0.01: close order cannot be placed yet
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	cfg := testConfig()
	cfg.TakeProfitMode = domain.TakeProfitModeMonitor
	f.exchange.Prices["BTCUSDT"] = 105.0

	f.monitor.Check(ctx, cfg)

	got, _ := f.positions.GetPosition(ctx, "p1")
	assert.Equal(t, domain.PositionFilled, got.Status, "position is kept for the next cycle")
	assert.Empty(t, f.exchange.Placed)
}
