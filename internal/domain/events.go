package domain

import (
	"context"
	"time"
)

// Activity event taxonomy. Every terminal outcome of the trading cycle is
// written to the activity log under one of these types with enough structured
// detail to reconstruct the decision afterwards.
const (
	EventSignalProcessed  = "signal_processed"
	EventSignalRejected   = "signal_rejected"
	EventTradeExecuted    = "trade_executed"
	EventTradeFilled      = "trade_filled"
	EventPositionClosed   = "position_closed"
	EventPositionKeptOpen = "position_kept_open"
	EventOrderPlaced      = "order_placed"
	EventOrderFailed      = "order_failed"
	EventOrderRejected    = "order_rejected"
	EventSystemError      = "system_error"
)

// ActivityEvent is one row of the append-only audit trail.
type ActivityEvent struct {
	ID        int64                  `json:"id"`
	AccountID string                 `json:"account_id"`
	Type      string                 `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventSink is the single side-channel components use to record activity.
// Components never talk to storage directly for logging.
type EventSink interface {
	Emit(ctx context.Context, ev ActivityEvent)
}
