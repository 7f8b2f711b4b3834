package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// PositionStatus is the lifecycle state of a position. A position is never
// deleted, only transitioned; closed rows are the durable audit trail.
type PositionStatus string

const (
	PositionPending   PositionStatus = "pending"
	PositionFilled    PositionStatus = "filled"
	PositionCancelled PositionStatus = "cancelled"
	PositionClosed    PositionStatus = "closed"
)

// Position is a trade opened by the bot.
//
// Price and Quantity initially hold the requested limit values; once the fill
// reconciler sees the order filled they are overwritten with the
// exchange-reported average price and executed quantity.
type Position struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"account_id"`
	Symbol            string         `json:"symbol"`
	Side              Side           `json:"side"`
	OrderType         OrderType      `json:"order_type"`
	Price             float64        `json:"price"`
	Quantity          float64        `json:"quantity"`
	Status            PositionStatus `json:"status"`
	ExchangeOrderID   string         `json:"exchange_order_id"`
	TakeProfitOrderID string         `json:"take_profit_order_id"`
	TakeProfitPrice   float64        `json:"take_profit_price"`
	ProfitLoss        float64        `json:"profit_loss"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsOpen reports whether the position still ties up budget on its pair.
func (p *Position) IsOpen() bool {
	return p.Status == PositionPending || p.Status == PositionFilled
}

// OrderRequest is the exchange-facing order specification.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    float64
	Price       float64 // ignored for market orders
	TimeInForce string
}

// OrderResult is the exchange acknowledgement of a placed order.
type OrderResult struct {
	OrderID  string
	Status   string
	AvgPrice float64
	ExecQty  float64
}

// Exchange order states as reported by order-status queries.
const (
	OrderStateNew             = "New"
	OrderStatePartiallyFilled = "PartiallyFilled"
	OrderStateFilled          = "Filled"
	OrderStateCancelled       = "Cancelled"
	OrderStateRejected        = "Rejected"
)

// OrderStatus is the exchange truth for a previously placed order.
type OrderStatus struct {
	OrderID  string
	Status   string
	AvgPrice float64
	ExecQty  float64
}

// Live reports whether the order is still resting on the book.
func (o *OrderStatus) Live() bool {
	return o.Status == OrderStateNew || o.Status == OrderStatePartiallyFilled
}
