package domain

import "time"

// MarketSample is one observed price point for a symbol. Samples form an
// append-only series; only a bounded window of recent samples is retained.
type MarketSample struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// SupportLevel is a derived price region where downward movement has
// historically paused. It is recomputed every cycle and never persisted.
type SupportLevel struct {
	Price      float64
	Strength   float64 // 0..1, grows with touch count
	TouchCount int
}
