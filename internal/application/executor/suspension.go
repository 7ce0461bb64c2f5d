package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// defaultJanitorInterval is how often SuspensionJanitor sweeps expired
// records.
const defaultJanitorInterval = time.Minute

// SuspensionJanitor periodically deletes expired suspension records so
// abandoned approvals don't accumulate in the backend.
type SuspensionJanitor struct {
	backend  domain.Backend
	interval time.Duration
}

// NewSuspensionJanitor builds a janitor over backend, sweeping every
// interval (defaultJanitorInterval if interval <= 0).
func NewSuspensionJanitor(backend domain.Backend, interval time.Duration) *SuspensionJanitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &SuspensionJanitor{backend: backend, interval: interval}
}

// Run blocks, sweeping on each tick until ctx is cancelled. Call it in a
// goroutine.
func (j *SuspensionJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.backend.DeleteExpired(time.Now())
			if err != nil {
				log.Error().Err(err).Msg("suspension janitor sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("removed", n).Msg("suspension janitor swept expired records")
			}
		}
	}
}

// ResumeCoordinator resumes a suspended run from its persisted
// SuspensionRecord, consuming the suspension token so a
// second resume attempt with the same id fails (ErrSuspensionAlreadyUsed).
type ResumeCoordinator struct {
	backend domain.Backend
}

// NewResumeCoordinator builds a ResumeCoordinator over backend.
func NewResumeCoordinator(backend domain.Backend) *ResumeCoordinator {
	return &ResumeCoordinator{backend: backend}
}

// Resume consumes the suspension record for suspensionID and re-enters
// sched at the suspended node with resumeInput standing in for the
// tool's awaited result.
func (rc *ResumeCoordinator) Resume(ctx context.Context, sched *Scheduler, suspensionID, sessionID string, resumeInput map[string]any) (map[string]any, error) {
	record, err := rc.backend.Consume(suspensionID)
	if err != nil {
		if errors.Is(err, domain.ErrSuspensionConsumed) {
			return nil, flowerrors.Wrap(flowerrors.ErrSuspensionAlreadyUsed, "resume", err)
		}
		return nil, flowerrors.Wrap(flowerrors.ErrUnknownSuspension, "resume", err)
	}
	if record.Expired(time.Now()) {
		return nil, flowerrors.NewFlowError(flowerrors.ErrSuspensionExpired, "suspension has expired").WithFlow(record.FlowID).WithNode(record.NodeID)
	}
	return sched.Resume(ctx, record.FlowID, sessionID, record, resumeInput)
}
