package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
	"github.com/smilemakc/planflow/internal/infrastructure/storage"
)

func TestResumeCoordinator_UnknownSuspension(t *testing.T) {
	backend := storage.NewMemorySuspensionBackend()
	rc := NewResumeCoordinator(backend)

	_, err := rc.Resume(context.Background(), nil, "no-such-key", "s", nil)
	require.Error(t, err)

	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrUnknownSuspension, fe.Kind)
}

func TestResumeCoordinator_ExpiredSuspension(t *testing.T) {
	backend := storage.NewMemorySuspensionBackend()
	require.NoError(t, backend.Store(&domain.SuspensionRecord{
		SuspensionID: "susp-old",
		FlowID:       "f",
		NodeID:       "n",
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	rc := NewResumeCoordinator(backend)
	_, err := rc.Resume(context.Background(), nil, "susp-old", "s", nil)
	require.Error(t, err)

	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrSuspensionExpired, fe.Kind)
}

func TestSuspensionJanitor_SweepsExpired(t *testing.T) {
	backend := storage.NewMemorySuspensionBackend()
	require.NoError(t, backend.Store(&domain.SuspensionRecord{
		SuspensionID: "fresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	require.NoError(t, backend.Store(&domain.SuspensionRecord{
		SuspensionID: "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))
	require.NoError(t, backend.Store(&domain.SuspensionRecord{
		SuspensionID: "immortal", // zero ExpiresAt never expires
	}))

	janitor := NewSuspensionJanitor(backend, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go janitor.Run(ctx)

	assert.Eventually(t, func() bool {
		_, err := backend.Fetch("stale")
		return err != nil
	}, time.Second, 5*time.Millisecond)
	cancel()

	_, err := backend.Fetch("fresh")
	assert.NoError(t, err)
	_, err = backend.Fetch("immortal")
	assert.NoError(t, err)
}

func TestMemoryBackend_ConsumeIsSingleUse(t *testing.T) {
	backend := storage.NewMemorySuspensionBackend()
	require.NoError(t, backend.Store(&domain.SuspensionRecord{SuspensionID: "once"}))

	_, err := backend.Consume("once")
	require.NoError(t, err)

	_, err = backend.Consume("once")
	require.ErrorIs(t, err, domain.ErrSuspensionConsumed)
}
