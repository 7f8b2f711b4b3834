package usecase

import (
	"github.com/vitos/spot_support_bot/internal/domain"
)

const (
	// Two prices belong to the same cluster when their relative difference
	// stays within this tolerance.
	clusterTolerance = 0.005

	// A cluster qualifies as support only after this many touches.
	minClusterTouches = 3

	// Detection needs at least this many samples to say anything.
	minDetectionSamples = 10

	// Touch count that maps to full strength.
	fullStrengthTouches = 10.0
)

// SupportDetector clusters recent lows of the price series into support
// candidates and picks the strongest one.
type SupportDetector struct{}

func NewSupportDetector() *SupportDetector {
	return &SupportDetector{}
}

type priceCluster struct {
	anchor  float64
	sum     float64
	touches int
}

// Detect returns the best support level found in the sample window, or nil
// when nothing qualifies. A nil result is a normal "no opportunity" outcome,
// not an error.
func (d *SupportDetector) Detect(samples []*domain.MarketSample) *domain.SupportLevel {
	if len(samples) < minDetectionSamples {
		return nil
	}

	var clusters []*priceCluster
	for _, s := range samples {
		placed := false
		for _, c := range clusters {
			diff := (s.Price - c.anchor) / c.anchor
			if diff < 0 {
				diff = -diff
			}
			if diff <= clusterTolerance {
				c.sum += s.Price
				c.touches++
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &priceCluster{
				anchor:  s.Price,
				sum:     s.Price,
				touches: 1,
			})
		}
	}

	// Highest touch count wins. Ties resolve to the earliest cluster so the
	// result is reproducible for a fixed input sequence.
	var best *priceCluster
	for _, c := range clusters {
		if c.touches < minClusterTouches {
			continue
		}
		if best == nil || c.touches > best.touches {
			best = c
		}
	}
	if best == nil {
		return nil
	}

	strength := float64(best.touches) / fullStrengthTouches
	if strength > 1 {
		strength = 1
	}

	return &domain.SupportLevel{
		Price:      best.sum / float64(best.touches),
		Strength:   strength,
		TouchCount: best.touches,
	}
}
