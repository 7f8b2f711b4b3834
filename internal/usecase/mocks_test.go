package usecase_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
)

// MockExchange is a scriptable in-memory exchange.
type MockExchange struct {
	mu sync.Mutex

	Prices        map[string]float64
	PriceErr      error
	Instrument    *domain.InstrumentInfo
	InstrumentErr error

	PlaceErr     error
	PlaceResults []*domain.OrderResult // consumed in order; empty falls back to a default ack
	Placed       []domain.OrderRequest

	Statuses  map[string]*domain.OrderStatus
	StatusErr error

	CancelErr error
	Cancelled []string

	Subscribed      []string
	InstrumentCalls int
	PriceCalls      int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Prices:   make(map[string]float64),
		Statuses: make(map[string]*domain.OrderStatus),
		Instrument: &domain.InstrumentInfo{
			Symbol:      "BTCUSDT",
			TickSize:    0.01,
			LotStep:     0.01,
			MinQty:      0.01,
			MinNotional: 5.0,
		},
	}
}

func (m *MockExchange) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceCalls++
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, errors.New("no price for " + symbol)
	}
	return price, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.Placed = append(m.Placed, req)
	if len(m.PlaceResults) > 0 {
		res := m.PlaceResults[0]
		m.PlaceResults = m.PlaceResults[1:]
		return res, nil
	}
	return &domain.OrderResult{OrderID: "order-" + string(rune('a'+len(m.Placed))), Status: domain.OrderStateNew}, nil
}

func (m *MockExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	if st, ok := m.Statuses[orderID]; ok {
		return st, nil
	}
	return &domain.OrderStatus{OrderID: orderID, Status: domain.OrderStateNew}, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Cancelled = append(m.Cancelled, orderID)
	return nil
}

func (m *MockExchange) GetInstrumentInfo(ctx context.Context, symbol string) (*domain.InstrumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InstrumentCalls++
	if m.InstrumentErr != nil {
		return nil, m.InstrumentErr
	}
	info := *m.Instrument
	info.Symbol = symbol
	return &info, nil
}

func (m *MockExchange) OnTrade(callback func(symbol string, price, volume float64)) {}

func (m *MockExchange) Subscribe(symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribed = append(m.Subscribed, symbols...)
	return nil
}

// MemPositionRepo keeps positions in insertion order for deterministic tests.
type MemPositionRepo struct {
	mu        sync.Mutex
	order     []string
	positions map[string]*domain.Position
	SaveErr   error
	ListErr   error
}

func NewMemPositionRepo() *MemPositionRepo {
	return &MemPositionRepo{positions: make(map[string]*domain.Position)}
}

func (r *MemPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	cp := *pos
	r.positions[pos.ID] = &cp
	r.order = append(r.order, pos.ID)
	return nil
}

func (r *MemPositionRepo) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *pos
	r.positions[pos.ID] = &cp
	return nil
}

func (r *MemPositionRepo) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (r *MemPositionRepo) ListPositionsByStatus(ctx context.Context, accountID string, status domain.PositionStatus) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []*domain.Position
	for _, id := range r.order {
		pos := r.positions[id]
		if pos.AccountID == accountID && pos.Status == status {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemPositionRepo) ListOpenPositions(ctx context.Context, accountID string) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []*domain.Position
	for _, id := range r.order {
		pos := r.positions[id]
		if pos.AccountID == accountID && pos.IsOpen() {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemPositionRepo) CountOpenPositions(ctx context.Context, accountID, symbol string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, pos := range r.positions {
		if pos.AccountID == accountID && pos.Symbol == symbol && pos.IsOpen() {
			count++
		}
	}
	return count, nil
}

// MemSignalRepo stores signals by id.
type MemSignalRepo struct {
	mu      sync.Mutex
	order   []string
	signals map[string]*domain.Signal
}

func NewMemSignalRepo() *MemSignalRepo {
	return &MemSignalRepo{signals: make(map[string]*domain.Signal)}
}

func (r *MemSignalRepo) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sig
	r.signals[sig.ID] = &cp
	r.order = append(r.order, sig.ID)
	return nil
}

func (r *MemSignalRepo) UpdateSignal(ctx context.Context, sig *domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signals[sig.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *sig
	r.signals[sig.ID] = &cp
	return nil
}

func (r *MemSignalRepo) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (r *MemSignalRepo) ListSignals(ctx context.Context, accountID string, limit int) ([]*domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Signal
	for _, id := range r.order {
		sig := r.signals[id]
		if sig.AccountID == accountID {
			cp := *sig
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemSampleRepo keeps per-symbol samples in insertion order.
type MemSampleRepo struct {
	mu      sync.Mutex
	samples map[string][]*domain.MarketSample
}

func NewMemSampleRepo() *MemSampleRepo {
	return &MemSampleRepo{samples: make(map[string][]*domain.MarketSample)}
}

func (r *MemSampleRepo) SaveSample(ctx context.Context, sample *domain.MarketSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sample
	r.samples[sample.Symbol] = append(r.samples[sample.Symbol], &cp)
	return nil
}

func (r *MemSampleRepo) RecentSamples(ctx context.Context, symbol string, limit int) ([]*domain.MarketSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.samples[symbol]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*domain.MarketSample, len(all))
	for i, s := range all {
		cp := *s
		out[i] = &cp
	}
	return out, nil
}

func (r *MemSampleRepo) PruneSamples(ctx context.Context, symbol string, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.samples[symbol]
	if keep > 0 && len(all) > keep {
		r.samples[symbol] = all[len(all)-keep:]
	}
	return nil
}

// RecordingSink captures emitted events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	Events []domain.ActivityEvent
}

func (s *RecordingSink) Emit(ctx context.Context, ev domain.ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
}

func (s *RecordingSink) OfType(eventType string) []domain.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActivityEvent
	for _, ev := range s.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// StubConfig serves one configuration for every account.
type StubConfig struct {
	mu  sync.Mutex
	Cfg *domain.TradingConfiguration
	Err error
}

func (s *StubConfig) LoadConfig(ctx context.Context, accountID string) (*domain.TradingConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	cp := *s.Cfg
	cp.Symbols = append([]string(nil), s.Cfg.Symbols...)
	return &cp, nil
}

func (s *StubConfig) SaveConfig(ctx context.Context, cfg *domain.TradingConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.Cfg = &cp
	return nil
}

func testConfig() *domain.TradingConfiguration {
	return &domain.TradingConfiguration{
		AccountID:                "acc-1",
		Symbols:                  []string{"BTCUSDT"},
		EntryOffsetPercent:       0.1,
		TakeProfitPercent:        1.0,
		MaxOrderAmountUSD:        100.0,
		MaxPositionsPerPair:      2,
		MaxActivePairs:           3,
		SupportCandleCount:       50,
		SupportLowerBoundPercent: 1.0,
		SupportUpperBoundPercent: 1.0,
		EODClosePremiumPercent:   0.5,
		EODCloseHourUTC:          21,
		AutoCloseAtEndOfDay:      true,
		TakeProfitMode:           domain.TakeProfitModeResting,
		MainLoopIntervalSeconds:  60,
		IsActive:                 true,
		UpdatedAt:                time.Now(),
	}
}
