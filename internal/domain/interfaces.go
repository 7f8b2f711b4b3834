package domain

import (
	"context"
	"time"
)

// Exchange defines the gateway to the spot exchange. Wire format, signing and
// rate limiting live behind this interface; the core never sees them.
type Exchange interface {
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error)

	// Streaming price feed. OnTrade registers a callback for public trades;
	// Subscribe adds symbols to the stream.
	OnTrade(callback func(symbol string, price, volume float64))
	Subscribe(symbols []string) error
}

// SampleRepository stores the bounded per-symbol price series.
type SampleRepository interface {
	SaveSample(ctx context.Context, sample *MarketSample) error
	// RecentSamples returns up to limit samples for the symbol ordered
	// oldest first.
	RecentSamples(ctx context.Context, symbol string, limit int) ([]*MarketSample, error)
	// PruneSamples drops everything older than the most recent keep rows.
	PruneSamples(ctx context.Context, symbol string, keep int) error
}

// SignalRepository stores generated signals and their processing outcome.
type SignalRepository interface {
	SaveSignal(ctx context.Context, sig *Signal) error
	UpdateSignal(ctx context.Context, sig *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	ListSignals(ctx context.Context, accountID string, limit int) ([]*Signal, error)
}

// PositionRepository stores positions. Positions are only ever inserted and
// transitioned, never deleted.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	UpdatePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	ListPositionsByStatus(ctx context.Context, accountID string, status PositionStatus) ([]*Position, error)
	// ListOpenPositions returns pending and filled positions for the account.
	ListOpenPositions(ctx context.Context, accountID string) ([]*Position, error)
	CountOpenPositions(ctx context.Context, accountID, symbol string) (int, error)
}

// ActivityRepository is the append-only audit log.
type ActivityRepository interface {
	SaveEvent(ctx context.Context, ev *ActivityEvent) error
	ListEvents(ctx context.Context, accountID string, limit int) ([]*ActivityEvent, error)
}

// ConfigProvider loads the per-account trading configuration. It is consulted
// at the start of every cycle so edits take effect on the next iteration.
type ConfigProvider interface {
	LoadConfig(ctx context.Context, accountID string) (*TradingConfiguration, error)
	SaveConfig(ctx context.Context, cfg *TradingConfiguration) error
}

// Clock abstracts time for the end-of-day gate and tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a func to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
