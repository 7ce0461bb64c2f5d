package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/smilemakc/planflow/internal/domain"
)

// MemoryStore is an in-process domain.Storage: one mutex-guarded map per
// aggregate (Plan, IR, ExecutionState, Event). It embeds
// MemorySuspensionBackend rather than duplicating suspension bookkeeping.
type MemoryStore struct {
	*MemorySuspensionBackend

	mu     sync.RWMutex
	plans  map[string]*domain.Plan
	irs    map[string][]byte // irHash -> gob-encoded domain.IR
	runs   map[string]*domain.ExecutionState
	events map[string][]*domain.Event // flowID -> events, append order
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemorySuspensionBackend: NewMemorySuspensionBackend(),
		plans:                   make(map[string]*domain.Plan),
		irs:                     make(map[string][]byte),
		runs:                    make(map[string]*domain.ExecutionState),
		events:                  make(map[string][]*domain.Event),
	}
}

func (s *MemoryStore) SavePlan(ctx context.Context, planID string, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[planID] = plan
	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", planID)
	}
	return p, nil
}

func (s *MemoryStore) ListPlans(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.plans))
	for id := range s.plans {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) DeletePlan(ctx context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, planID)
	return nil
}

func (s *MemoryStore) PlanExists(ctx context.Context, planID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.plans[planID]
	return ok, nil
}

func (s *MemoryStore) SaveIR(ctx context.Context, irHash string, ir *domain.IR) error {
	data, err := domain.EncodeIR(ir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irs[irHash] = data
	return nil
}

func (s *MemoryStore) GetIR(ctx context.Context, irHash string) (*domain.IR, bool, error) {
	s.mu.RLock()
	data, ok := s.irs[irHash]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	ir, err := domain.DecodeIR(data)
	if err != nil {
		return nil, false, err
	}
	return ir, true, nil
}

func (s *MemoryStore) SaveRunState(ctx context.Context, state *domain.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.ExecutionID()] = state
	return nil
}

func (s *MemoryStore) GetRunState(ctx context.Context, flowID string) (*domain.ExecutionState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[flowID]
	return st, ok, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ExecutionState, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, st)
	}
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) DeleteRunState(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, flowID)
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ExecutionID()] = append(s.events[event.ExecutionID()], event)
	return nil
}

func (s *MemoryStore) AppendEvents(ctx context.Context, events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.ExecutionID()] = append(s.events[ev.ExecutionID()], ev)
	}
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, flowID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Event, len(s.events[flowID]))
	copy(out, s.events[flowID])
	return out, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, flowID string, afterEventID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[flowID]
	if afterEventID == "" {
		out := make([]*domain.Event, len(all))
		copy(out, all)
		return out, nil
	}
	for i, ev := range all {
		if ev.EventID() == afterEventID {
			out := make([]*domain.Event, len(all)-i-1)
			copy(out, all[i+1:])
			return out, nil
		}
	}
	return nil, fmt.Errorf("event %q not found for flow %q", afterEventID, flowID)
}

// BeginTransaction is a no-op: MemoryStore's single mutex already
// serializes every write within one process.
func (s *MemoryStore) BeginTransaction(ctx context.Context) (context.Context, error) { return ctx, nil }
func (s *MemoryStore) CommitTransaction(ctx context.Context) error                   { return nil }
func (s *MemoryStore) RollbackTransaction(ctx context.Context) error                 { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
