package domain

import "time"

// Signal actions. The engine only opens long spot positions, so "buy" is the
// only action generated today; the field stays explicit for the audit trail.
const ActionBuy = "buy"

// Rejection reasons recorded on a processed signal.
const (
	RejectBelowMinimumQuantity = "below_minimum_quantity"
	RejectBelowMinimumNotional = "below_minimum_notional"
	RejectExceedsMaxOrderValue = "exceeds_max_order_amount"
	RejectExchangeError        = "exchange_rejected"
)

// Signal is a buy opportunity produced by the signal generator. A signal is
// consumed exactly once: the order placer marks it processed regardless of
// the outcome, so a rejected or failed signal is never retried directly.
type Signal struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Symbol       string    `json:"symbol"`
	Action       string    `json:"action"`
	TargetPrice  float64   `json:"target_price"`
	Confidence   float64   `json:"confidence"`
	Reasoning    string    `json:"reasoning"`
	Processed    bool      `json:"processed"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
