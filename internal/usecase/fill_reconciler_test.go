package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/usecase"
	"go.uber.org/zap"
)

type reconcilerFixture struct {
	exchange   *MockExchange
	positions  *MemPositionRepo
	sink       *RecordingSink
	reconciler *usecase.FillReconciler
}

func newReconcilerFixture() *reconcilerFixture {
	ex := NewMockExchange()
	positions := NewMemPositionRepo()
	sink := &RecordingSink{}
	sizer := usecase.NewPositionSizer(usecase.NewInstrumentCache(ex, 0))
	return &reconcilerFixture{
		exchange:   ex,
		positions:  positions,
		sink:       sink,
		reconciler: usecase.NewFillReconciler(ex, positions, sizer, sink, zap.NewNop()),
	}
}

func pendingPosition(id, entryOrderID string) *domain.Position {
	return &domain.Position{
		ID:              id,
		AccountID:       "acc-1",
		Symbol:          "BTCUSDT",
		Side:            domain.SideBuy,
		OrderType:       domain.OrderTypeLimit,
		Price:           100.0,
		Quantity:        1.0,
		Status:          domain.PositionPending,
		ExchangeOrderID: entryOrderID,
	}
}

func TestFillReconciler_FilledEntryGetsExchangeValues(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.TakeProfitOrderID = "tp-1"
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	// Filled with price improvement and a partial-executed quantity.
	f.exchange.Statuses["entry-1"] = &domain.OrderStatus{
		OrderID: "entry-1", Status: domain.OrderStateFilled, AvgPrice: 99.95, ExecQty: 0.98,
	}
	f.exchange.Statuses["tp-1"] = &domain.OrderStatus{
		OrderID: "tp-1", Status: domain.OrderStateNew,
	}

	f.reconciler.Reconcile(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionFilled, got.Status)
	assert.InDelta(t, 99.95, got.Price, 1e-9, "exchange average price wins")
	assert.InDelta(t, 0.98, got.Quantity, 1e-9, "executed quantity wins")
	assert.Len(t, f.sink.OfType(domain.EventTradeFilled), 1)
}

func TestFillReconciler_CancelledEntryCleansUpTakeProfit(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.TakeProfitOrderID = "tp-1"
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	f.exchange.Statuses["entry-1"] = &domain.OrderStatus{
		OrderID: "entry-1", Status: domain.OrderStateCancelled,
	}

	f.reconciler.Reconcile(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionCancelled, got.Status)
	assert.Contains(t, f.exchange.Cancelled, "tp-1", "orphaned take-profit must be cancelled")
	assert.Len(t, f.sink.OfType(domain.EventOrderFailed), 1)
}

func TestFillReconciler_RestingEntryUntouched(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	require.NoError(t, f.positions.SavePosition(ctx, pendingPosition("p1", "entry-1")))

	// Default mock status is New.
	f.reconciler.Reconcile(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPending, got.Status)
	assert.Empty(t, f.sink.Events)
}

func TestFillReconciler_FillWithoutTakeProfitEstablishesOne(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	require.NoError(t, f.positions.SavePosition(ctx, pendingPosition("p1", "entry-1")))

	f.exchange.Statuses["entry-1"] = &domain.OrderStatus{
		OrderID: "entry-1", Status: domain.OrderStateFilled, AvgPrice: 100.0, ExecQty: 1.0,
	}
	f.exchange.PlaceResults = []*domain.OrderResult{
		{OrderID: "tp-new", Status: domain.OrderStateNew},
	}

	f.reconciler.Reconcile(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "tp-new", got.TakeProfitOrderID)
	assert.InDelta(t, 101.0, got.TakeProfitPrice, 1e-9)

	require.Len(t, f.exchange.Placed, 1)
	assert.Equal(t, domain.SideSell, f.exchange.Placed[0].Side)
}

func TestFillReconciler_AuditSweepRecoversMissingTakeProfit(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.Status = domain.PositionFilled
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	f.exchange.PlaceResults = []*domain.OrderResult{
		{OrderID: "tp-recovered", Status: domain.OrderStateNew},
	}

	f.reconciler.AuditSweep(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "tp-recovered", got.TakeProfitOrderID)
	assert.Empty(t, f.sink.OfType(domain.EventSystemError))
}

func TestFillReconciler_AuditSweepEscalatesWhenRecoveryFails(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.Status = domain.PositionFilled
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	f.exchange.PlaceErr = errors.New("exchange unavailable")

	f.reconciler.AuditSweep(ctx, testConfig())

	criticals := f.sink.OfType(domain.EventSystemError)
	require.Len(t, criticals, 1, "unrecoverable invariant violation must be surfaced")
	assert.Equal(t, "critical", criticals[0].Details["severity"])
	assert.Equal(t, "p1", criticals[0].Details["position_id"])
}

func TestFillReconciler_AuditSweepClosesOnFilledTakeProfit(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.Status = domain.PositionFilled
	pos.TakeProfitOrderID = "tp-1"
	pos.TakeProfitPrice = 101.0
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	f.exchange.Statuses["tp-1"] = &domain.OrderStatus{
		OrderID: "tp-1", Status: domain.OrderStateFilled, AvgPrice: 101.2, ExecQty: 1.0,
	}

	f.reconciler.AuditSweep(ctx, testConfig())

	got, err := f.positions.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.Status)
	assert.InDelta(t, 1.2, got.ProfitLoss, 1e-9, "(101.2-100.0)*1.0")
	assert.Len(t, f.sink.OfType(domain.EventPositionClosed), 1)
}

func TestFillReconciler_AuditSweepSkipsMonitorMode(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	pos := pendingPosition("p1", "entry-1")
	pos.Status = domain.PositionFilled
	require.NoError(t, f.positions.SavePosition(ctx, pos))

	cfg := testConfig()
	cfg.TakeProfitMode = domain.TakeProfitModeMonitor
	f.reconciler.AuditSweep(ctx, cfg)

	assert.Empty(t, f.exchange.Placed, "monitor mode must never place resting sells")
	got, _ := f.positions.GetPosition(ctx, "p1")
	assert.Empty(t, got.TakeProfitOrderID)
}
