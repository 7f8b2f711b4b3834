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

type placerFixture struct {
	exchange  *MockExchange
	positions *MemPositionRepo
	signals   *MemSignalRepo
	sink      *RecordingSink
	placer    *usecase.OrderPlacer
}

func newPlacerFixture() *placerFixture {
	ex := NewMockExchange()
	positions := NewMemPositionRepo()
	signals := NewMemSignalRepo()
	sink := &RecordingSink{}
	sizer := usecase.NewPositionSizer(usecase.NewInstrumentCache(ex, 0))
	return &placerFixture{
		exchange:  ex,
		positions: positions,
		signals:   signals,
		sink:      sink,
		placer:    usecase.NewOrderPlacer(ex, positions, signals, sizer, sink, zap.NewNop()),
	}
}

func testSignal() *domain.Signal {
	return &domain.Signal{
		ID:          "sig-1",
		AccountID:   "acc-1",
		Symbol:      "BTCUSDT",
		Action:      domain.ActionBuy,
		TargetPrice: 100.0,
		Confidence:  0.8,
	}
}

func TestOrderPlacer_PlacesEntryAndTakeProfit(t *testing.T) {
	f := newPlacerFixture()
	f.exchange.PlaceResults = []*domain.OrderResult{
		{OrderID: "entry-1", Status: domain.OrderStateNew},
		{OrderID: "tp-1", Status: domain.OrderStateNew},
	}
	sig := testSignal()
	require.NoError(t, f.signals.SaveSignal(context.Background(), sig))

	err := f.placer.Place(context.Background(), testConfig(), sig)
	require.NoError(t, err)

	require.Len(t, f.exchange.Placed, 2)
	entry, tp := f.exchange.Placed[0], f.exchange.Placed[1]

	assert.Equal(t, domain.SideBuy, entry.Side)
	assert.Equal(t, domain.OrderTypeLimit, entry.Type)
	assert.InDelta(t, 100.0, entry.Price, 1e-9)
	assert.InDelta(t, 1.0, entry.Quantity, 1e-9)
	assert.Equal(t, "GTC", entry.TimeInForce)

	assert.Equal(t, domain.SideSell, tp.Side)
	assert.Equal(t, domain.OrderTypeLimit, tp.Type)
	assert.InDelta(t, 101.0, tp.Price, 1e-9, "take-profit 1%% above entry")
	assert.InDelta(t, 1.0, tp.Quantity, 1e-9)

	open, err := f.positions.ListOpenPositions(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, domain.PositionPending, pos.Status)
	assert.Equal(t, "entry-1", pos.ExchangeOrderID)
	assert.Equal(t, "tp-1", pos.TakeProfitOrderID)
	assert.InDelta(t, 101.0, pos.TakeProfitPrice, 1e-9)

	stored, err := f.signals.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Empty(t, stored.RejectReason)

	assert.Len(t, f.sink.OfType(domain.EventOrderPlaced), 2)
	assert.Len(t, f.sink.OfType(domain.EventTradeExecuted), 1)
	assert.Len(t, f.sink.OfType(domain.EventSignalProcessed), 1)
}

func TestOrderPlacer_ProcessedSignalIsNoOp(t *testing.T) {
	f := newPlacerFixture()
	sig := testSignal()
	sig.Processed = true

	err := f.placer.Place(context.Background(), testConfig(), sig)
	require.NoError(t, err)
	assert.Empty(t, f.exchange.Placed, "processed signal must never reach the exchange")
}

func TestOrderPlacer_SizingRejectionMarksProcessed(t *testing.T) {
	f := newPlacerFixture()
	f.exchange.Instrument.MinQty = 10.0 // budget can never afford this
	sig := testSignal()
	require.NoError(t, f.signals.SaveSignal(context.Background(), sig))

	err := f.placer.Place(context.Background(), testConfig(), sig)
	require.NoError(t, err, "a sizing rejection is a designed outcome, not an error")

	assert.Empty(t, f.exchange.Placed)
	stored, err := f.signals.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Equal(t, domain.RejectBelowMinimumQuantity, stored.RejectReason)

	assert.Len(t, f.sink.OfType(domain.EventSignalRejected), 1)
	open, _ := f.positions.ListOpenPositions(context.Background(), "acc-1")
	assert.Empty(t, open, "rejected signal must not create a position")
}

func TestOrderPlacer_ExchangeRejectionMarksProcessed(t *testing.T) {
	f := newPlacerFixture()
	f.exchange.PlaceErr = errors.New("insufficient balance")
	sig := testSignal()
	require.NoError(t, f.signals.SaveSignal(context.Background(), sig))

	err := f.placer.Place(context.Background(), testConfig(), sig)
	require.NoError(t, err)

	stored, err := f.signals.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Equal(t, domain.RejectExchangeError, stored.RejectReason)
	assert.Len(t, f.sink.OfType(domain.EventOrderRejected), 1)
}

func TestOrderPlacer_TakeProfitFailureLeavesEntryStanding(t *testing.T) {
	f := newPlacerFixture()
	// Entry succeeds, then every further order fails.
	f.exchange.PlaceResults = []*domain.OrderResult{
		{OrderID: "entry-1", Status: domain.OrderStateNew},
	}
	failAfterFirst := &flakyExchange{MockExchange: f.exchange, failFrom: 2}
	sizer := usecase.NewPositionSizer(usecase.NewInstrumentCache(failAfterFirst, 0))
	placer := usecase.NewOrderPlacer(failAfterFirst, f.positions, f.signals, sizer, f.sink, zap.NewNop())

	sig := testSignal()
	require.NoError(t, f.signals.SaveSignal(context.Background(), sig))
	require.NoError(t, placer.Place(context.Background(), testConfig(), sig))

	open, err := f.positions.ListOpenPositions(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, open[0].TakeProfitOrderID, "take-profit id must stay empty for the audit sweep")

	stored, _ := f.signals.GetSignal(context.Background(), "sig-1")
	assert.True(t, stored.Processed, "signal is processed even when the take-profit leg failed")
	assert.Len(t, f.sink.OfType(domain.EventOrderFailed), 1)
}

func TestOrderPlacer_MonitorModeSkipsRestingTakeProfit(t *testing.T) {
	f := newPlacerFixture()
	cfg := testConfig()
	cfg.TakeProfitMode = domain.TakeProfitModeMonitor

	sig := testSignal()
	require.NoError(t, f.signals.SaveSignal(context.Background(), sig))
	require.NoError(t, f.placer.Place(context.Background(), cfg, sig))

	require.Len(t, f.exchange.Placed, 1, "only the entry order in monitor mode")
	open, _ := f.positions.ListOpenPositions(context.Background(), "acc-1")
	require.Len(t, open, 1)
	assert.Empty(t, open[0].TakeProfitOrderID)
}

// flakyExchange fails every PlaceOrder call from failFrom onward.
type flakyExchange struct {
	*MockExchange
	calls    int
	failFrom int
}

func (f *flakyExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.calls++
	if f.calls >= f.failFrom {
		return nil, errors.New("exchange unavailable")
	}
	return f.MockExchange.PlaceOrder(ctx, req)
}
