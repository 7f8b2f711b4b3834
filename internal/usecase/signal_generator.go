package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	// Signals below this confidence are suppressed.
	minSignalConfidence = 0.3

	// Blend weights for confidence: support strength vs. proximity of the
	// current price to the target entry.
	strengthWeight  = 0.6
	proximityWeight = 0.4

	// Relative distance from target at which proximity reaches zero.
	proximityRange = 0.05
)

// SignalGenerator turns a support level plus the current price into a buy
// signal, subject to the configured entry bounds and position limits.
type SignalGenerator struct {
	positions domain.PositionRepository
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewSignalGenerator(positions domain.PositionRepository, logger *zap.Logger) *SignalGenerator {
	return &SignalGenerator{
		positions: positions,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Generate returns a signal when the setup qualifies, nil when it does not.
// A nil signal without error means "no opportunity this cycle".
func (g *SignalGenerator) Generate(
	ctx context.Context,
	cfg *domain.TradingConfiguration,
	symbol string,
	support *domain.SupportLevel,
	currentPrice float64,
) (*domain.Signal, error) {
	if support == nil || currentPrice <= 0 {
		return nil, nil
	}

	allowed, err := g.withinPositionLimits(ctx, cfg, symbol)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	lowerBound := support.Price * (1 - cfg.SupportLowerBoundPercent/100)
	upperBound := support.Price * (1 + cfg.SupportUpperBoundPercent/100)
	if currentPrice < lowerBound || currentPrice > upperBound {
		g.logger.Debug("Price outside support bounds, no signal",
			zap.String("symbol", symbol),
			zap.Float64("price", currentPrice),
			zap.Float64("lower", lowerBound),
			zap.Float64("upper", upperBound))
		return nil, nil
	}

	targetPrice := support.Price * (1 + cfg.EntryOffsetPercent/100)
	confidence := blendConfidence(support.Strength, currentPrice, targetPrice)
	if confidence < minSignalConfidence {
		g.logger.Debug("Signal suppressed below confidence floor",
			zap.String("symbol", symbol),
			zap.Float64("confidence", confidence))
		return nil, nil
	}

	return &domain.Signal{
		ID:          uuid.NewString(),
		AccountID:   cfg.AccountID,
		Symbol:      symbol,
		Action:      domain.ActionBuy,
		TargetPrice: targetPrice,
		Confidence:  confidence,
		Reasoning: fmt.Sprintf(
			"support %.8g touched %d times (strength %.2f), price %.8g within [%.8g, %.8g], target entry %.8g",
			support.Price, support.TouchCount, support.Strength,
			currentPrice, lowerBound, upperBound, targetPrice),
		CreatedAt: g.timeNow(),
	}, nil
}

// withinPositionLimits checks the per-pair and per-account caps against open
// (pending or filled) positions.
func (g *SignalGenerator) withinPositionLimits(ctx context.Context, cfg *domain.TradingConfiguration, symbol string) (bool, error) {
	count, err := g.positions.CountOpenPositions(ctx, cfg.AccountID, symbol)
	if err != nil {
		return false, fmt.Errorf("count open positions for %s: %w", symbol, err)
	}
	if count >= cfg.MaxPositionsPerPair {
		g.logger.Debug("Pair position cap reached, skipping",
			zap.String("symbol", symbol),
			zap.Int("open", count),
			zap.Int("max", cfg.MaxPositionsPerPair))
		return false, nil
	}

	open, err := g.positions.ListOpenPositions(ctx, cfg.AccountID)
	if err != nil {
		return false, fmt.Errorf("list open positions: %w", err)
	}
	pairs := make(map[string]bool)
	for _, p := range open {
		pairs[p.Symbol] = true
	}
	if !pairs[symbol] && len(pairs) >= cfg.MaxActivePairs {
		g.logger.Debug("Active pair cap reached, skipping",
			zap.String("symbol", symbol),
			zap.Int("active_pairs", len(pairs)),
			zap.Int("max", cfg.MaxActivePairs))
		return false, nil
	}
	return true, nil
}

// blendConfidence mixes support strength with how close the market already is
// to the target entry. Confidence falls monotonically as the price drifts
// away from the target and is clamped to [0,1].
func blendConfidence(strength, currentPrice, targetPrice float64) float64 {
	dist := (currentPrice - targetPrice) / targetPrice
	if dist < 0 {
		dist = -dist
	}
	proximity := 1 - dist/proximityRange
	if proximity < 0 {
		proximity = 0
	}

	confidence := strengthWeight*strength + proximityWeight*proximity
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
