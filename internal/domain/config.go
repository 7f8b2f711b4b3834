package domain

import (
	"fmt"
	"time"
)

// Take-profit modes. "resting" places a limit sell right after the entry fills
// and lets the exchange do the work; "monitor" polls the price and closes at
// market once the target is reached. Exactly one of them is authoritative for
// an account, never both, so a position cannot be closed twice.
const (
	TakeProfitModeResting = "resting"
	TakeProfitModeMonitor = "monitor"
)

// TradingConfiguration holds the per-account trading parameters. It is loaded
// once at the start of every cycle and treated as immutable within it.
type TradingConfiguration struct {
	AccountID                string    `json:"account_id" yaml:"account_id"`
	Symbols                  []string  `json:"symbols" yaml:"symbols"`
	EntryOffsetPercent       float64   `json:"entry_offset_pct" yaml:"entry_offset_pct"`
	TakeProfitPercent        float64   `json:"take_profit_pct" yaml:"take_profit_pct"`
	MaxOrderAmountUSD        float64   `json:"max_order_amount_usd" yaml:"max_order_amount_usd"`
	MaxPositionsPerPair      int       `json:"max_positions_per_pair" yaml:"max_positions_per_pair"`
	MaxActivePairs           int       `json:"max_active_pairs" yaml:"max_active_pairs"`
	SupportCandleCount       int       `json:"support_candle_count" yaml:"support_candle_count"`
	SupportLowerBoundPercent float64   `json:"support_lower_bound_pct" yaml:"support_lower_bound_pct"`
	SupportUpperBoundPercent float64   `json:"support_upper_bound_pct" yaml:"support_upper_bound_pct"`
	EODClosePremiumPercent   float64   `json:"eod_close_premium_pct" yaml:"eod_close_premium_pct"`
	EODCloseHourUTC          int       `json:"eod_close_hour_utc" yaml:"eod_close_hour_utc"`
	AutoCloseAtEndOfDay      bool      `json:"auto_close_at_eod" yaml:"auto_close_at_eod"`
	EODCloseIncludeLosses    bool      `json:"eod_close_include_losses" yaml:"eod_close_include_losses"`
	TakeProfitMode           string    `json:"take_profit_mode" yaml:"take_profit_mode"`
	MainLoopIntervalSeconds  int       `json:"main_loop_interval_seconds" yaml:"main_loop_interval_seconds"`
	IsActive                 bool      `json:"is_active" yaml:"is_active"`
	UpdatedAt                time.Time `json:"updated_at" yaml:"-"`
}

// Validate rejects configurations that would produce nonsensical orders.
func (c *TradingConfiguration) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("config: account id is empty")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	positives := map[string]float64{
		"entry_offset_pct":        c.EntryOffsetPercent,
		"take_profit_pct":         c.TakeProfitPercent,
		"max_order_amount_usd":    c.MaxOrderAmountUSD,
		"support_lower_bound_pct": c.SupportLowerBoundPercent,
		"support_upper_bound_pct": c.SupportUpperBoundPercent,
		"eod_close_premium_pct":   c.EODClosePremiumPercent,
	}
	for name, v := range positives {
		if v <= 0 {
			return fmt.Errorf("config: %s must be strictly positive, got %f", name, v)
		}
	}
	if c.MaxPositionsPerPair <= 0 {
		return fmt.Errorf("config: max_positions_per_pair must be strictly positive")
	}
	if c.MaxActivePairs <= 0 {
		return fmt.Errorf("config: max_active_pairs must be strictly positive")
	}
	if c.SupportCandleCount < 10 {
		return fmt.Errorf("config: support_candle_count must be at least 10")
	}
	if c.MainLoopIntervalSeconds <= 0 {
		return fmt.Errorf("config: main_loop_interval_seconds must be strictly positive")
	}
	if c.TakeProfitMode != TakeProfitModeResting && c.TakeProfitMode != TakeProfitModeMonitor {
		return fmt.Errorf("config: unknown take_profit_mode %q", c.TakeProfitMode)
	}
	return nil
}

// Interval returns the main loop interval as a duration.
func (c *TradingConfiguration) Interval() time.Duration {
	return time.Duration(c.MainLoopIntervalSeconds) * time.Second
}
