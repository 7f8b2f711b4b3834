package domain

// InstrumentInfo carries the exchange trading constraints for a symbol.
// Values come from the instrument-info endpoint and change rarely, so they
// are cached with a TTL on the usecase side.
type InstrumentInfo struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	LotStep     float64 `json:"lot_step"`
	MinQty      float64 `json:"min_qty"`
	MinNotional float64 `json:"min_notional"`
}
