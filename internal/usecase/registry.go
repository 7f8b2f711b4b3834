package usecase

import (
	"context"
	"sync"
)

// EngineRegistry owns the set of per-account trading engines. Engines are
// created lazily on first use and reused afterwards, so admin operations hit
// the same engine (and the same EOD dedup state) the scheduler runs on.
type EngineRegistry struct {
	deps EngineDeps

	mu      sync.Mutex
	engines map[string]*CycleEngine
}

func NewEngineRegistry(deps EngineDeps) *EngineRegistry {
	return &EngineRegistry{
		deps:    deps,
		engines: make(map[string]*CycleEngine),
	}
}

func (r *EngineRegistry) engine(accountID string) *CycleEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[accountID]
	if !ok {
		eng = NewCycleEngine(accountID, r.deps)
		r.engines[accountID] = eng
	}
	return eng
}

// StartEngine starts the engine for an account. Idempotent while running.
func (r *EngineRegistry) StartEngine(ctx context.Context, accountID string) error {
	return r.engine(accountID).Start(ctx)
}

// StopEngine stops the engine for an account if it exists and is running.
func (r *EngineRegistry) StopEngine(accountID string) {
	r.mu.Lock()
	eng, ok := r.engines[accountID]
	r.mu.Unlock()
	if ok {
		eng.Stop()
	}
}

// Remove stops the engine for an account and drops it from the registry.
// The next operation for that account starts from a fresh engine.
func (r *EngineRegistry) Remove(accountID string) {
	r.mu.Lock()
	eng, ok := r.engines[accountID]
	delete(r.engines, accountID)
	r.mu.Unlock()
	if ok {
		eng.Stop()
	}
}

// StopAll stops every registered engine; used on shutdown.
func (r *EngineRegistry) StopAll() {
	r.mu.Lock()
	engines := make([]*CycleEngine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
}

func (r *EngineRegistry) Running(accountID string) bool {
	r.mu.Lock()
	eng, ok := r.engines[accountID]
	r.mu.Unlock()
	return ok && eng.Running()
}

// ClosePosition closes one position at market, whether or not the engine
// loop is currently running.
func (r *EngineRegistry) ClosePosition(ctx context.Context, accountID, positionID string) error {
	return r.engine(accountID).ClosePositionAtMarket(ctx, positionID)
}

// SimulateEndOfDay triggers an immediate end-of-day evaluation for an
// account outside the scheduled window.
func (r *EngineRegistry) SimulateEndOfDay(ctx context.Context, accountID string, forceProfit bool) error {
	return r.engine(accountID).SimulateEndOfDay(ctx, forceProfit)
}
