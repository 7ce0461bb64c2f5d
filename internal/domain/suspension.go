package domain

import (
	"errors"
	"time"
)

// Sentinel errors every Backend implementation returns so callers can tell
// a missing record from a token that was already spent.
var (
	ErrSuspensionNotFound = errors.New("suspension record not found")
	ErrSuspensionConsumed = errors.New("suspension record already consumed")
)

// SuspensionRecord is the frozen state of one suspended run. It carries enough to resume execution at exactly the node that
// suspended, without re-running anything upstream.
type SuspensionRecord struct {
	// SuspensionID is the opaque token handed back to the caller and
	// required to resume.
	SuspensionID string
	FlowID       string
	IRHash       string

	// NodeID is the node that raised the SuspendSignal.
	NodeID    string
	AwaitKind string
	Payload   map[string]any

	// CompletedOutputs holds every node output recorded before suspension,
	// keyed by node id, so resume never re-invokes a completed tool.
	CompletedOutputs map[string]map[string]any

	// ScopeSnapshot is the flattened variable environment at the point of
	// suspension, used to rebuild scopes on resume.
	ScopeSnapshot map[string]any

	// PendingBranches is persisted by the storage backends, but the
	// scheduler never fills it in and resume does not read it: on resume,
	// composite nodes are re-entered and CompletedOutputs alone decides
	// which children are skipped (loop bodies run unmemoized and start
	// over).
	PendingBranches []string

	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// Expired reports whether the record is past its ExpiresAt relative to now.
func (r *SuspensionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Backend is the suspension persistence contract. The
// engine core depends only on this interface; concrete backends (in-memory,
// bun/Postgres) live in infrastructure/storage.
type Backend interface {
	// Store persists a new suspension record.
	Store(record *SuspensionRecord) error
	// Fetch loads a suspension record by id without consuming it.
	Fetch(suspensionID string) (*SuspensionRecord, error)
	// Consume atomically loads and marks a record consumed; a second call
	// with the same id must fail so a suspension token can resume at most
	// once.
	Consume(suspensionID string) (*SuspensionRecord, error)
	// DeleteExpired removes every record whose ExpiresAt is before now (a
	// record with a zero ExpiresAt never expires), and
	// reports how many were removed. Driven by a periodic janitor.
	DeleteExpired(now time.Time) (int, error)
}
