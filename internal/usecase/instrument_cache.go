package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
)

// DefaultInstrumentTTL bounds how long instrument constraints are reused
// before the exchange is asked again.
const DefaultInstrumentTTL = 5 * time.Minute

type instrumentEntry struct {
	info   *domain.InstrumentInfo
	expiry time.Time
}

// InstrumentCache is a TTL cache in front of the exchange instrument-info
// endpoint. Constraints change rarely; one fetch per symbol per TTL is enough.
type InstrumentCache struct {
	exchange domain.Exchange
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]instrumentEntry
	timeNow func() time.Time // for testing
}

func NewInstrumentCache(exchange domain.Exchange, ttl time.Duration) *InstrumentCache {
	if ttl <= 0 {
		ttl = DefaultInstrumentTTL
	}
	return &InstrumentCache{
		exchange: exchange,
		ttl:      ttl,
		entries:  make(map[string]instrumentEntry),
		timeNow:  time.Now,
	}
}

// Get returns the cached constraints for symbol, fetching from the exchange
// when the entry is missing or expired.
func (c *InstrumentCache) Get(ctx context.Context, symbol string) (*domain.InstrumentInfo, error) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	now := c.timeNow()
	c.mu.Unlock()

	if ok && now.Before(entry.expiry) {
		info := *entry.info
		return &info, nil
	}

	info, err := c.exchange.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[symbol] = instrumentEntry{info: info, expiry: now.Add(c.ttl)}
	c.mu.Unlock()

	infoCopy := *info
	return &infoCopy, nil
}

// Invalidate drops the cached entry for symbol.
func (c *InstrumentCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}
