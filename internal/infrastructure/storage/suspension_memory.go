package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
)

// MemorySuspensionBackend is an in-process domain.Backend: a single
// mutex-guarded map. It is the default backend wired by NewEngine; the
// bun-backed BunStore is the durable alternative.
type MemorySuspensionBackend struct {
	mu      sync.Mutex
	records map[string]*domain.SuspensionRecord
}

// NewMemorySuspensionBackend creates an empty backend.
func NewMemorySuspensionBackend() *MemorySuspensionBackend {
	return &MemorySuspensionBackend{records: make(map[string]*domain.SuspensionRecord)}
}

func (b *MemorySuspensionBackend) Store(record *domain.SuspensionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[record.SuspensionID] = record
	return nil
}

func (b *MemorySuspensionBackend) Fetch(suspensionID string) (*domain.SuspensionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[suspensionID]
	if !ok {
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionNotFound)
	}
	return r, nil
}

// Consume loads and marks a record consumed atomically under the same
// lock, so two concurrent resumes of the same suspension id race safely
// and exactly one succeeds.
func (b *MemorySuspensionBackend) Consume(suspensionID string) (*domain.SuspensionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[suspensionID]
	if !ok {
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionNotFound)
	}
	if r.Consumed {
		return nil, fmt.Errorf("suspension %q: %w", suspensionID, domain.ErrSuspensionConsumed)
	}
	r.Consumed = true
	return r, nil
}

func (b *MemorySuspensionBackend) DeleteExpired(now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, r := range b.records {
		if r.Expired(now) {
			delete(b.records, id)
			n++
		}
	}
	return n, nil
}
