package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// RetryPolicy defines the retry behavior for node execution failures.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NoRetryPolicy returns a policy that disables retries.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 0}
}

// PolicyFromRunConfig derives a RetryPolicy from a node's retries/
// retryDelay run config.
func PolicyFromRunConfig(cfg *domain.NodeRunConfig) *RetryPolicy {
	if cfg == nil || cfg.Retries <= 0 {
		return NoRetryPolicy()
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &RetryPolicy{
		MaxAttempts:  cfg.Retries,
		InitialDelay: delay,
		MaxDelay:     delay * 10,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Run executes fn with exponential backoff per policy, stopping early when
// fn's error is non-retryable.
func (p *RetryPolicy) Run(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.calculateDelay(attempt)):
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !flowerrors.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retry attempts (%d) exhausted: %w", p.MaxAttempts, lastErr)
}

func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitterAmount := delay * 0.1
		jitter := (2*float64(time.Now().UnixNano()%1000)/1000 - 1) * jitterAmount
		delay += jitter
	}
	return time.Duration(delay)
}

// RetryBudget tracks the number of retries to prevent infinite loops across
// an entire run (distinct from a single node's RetryPolicy).
type RetryBudget struct {
	maxRetries int
	used       int
}

// NewRetryBudget creates a new retry budget.
func NewRetryBudget(maxRetries int) *RetryBudget {
	return &RetryBudget{maxRetries: maxRetries}
}

func (rb *RetryBudget) CanRetry() bool { return rb.used < rb.maxRetries }

func (rb *RetryBudget) UseRetry() bool {
	if !rb.CanRetry() {
		return false
	}
	rb.used++
	return true
}

func (rb *RetryBudget) Remaining() int { return rb.maxRetries - rb.used }
func (rb *RetryBudget) Used() int      { return rb.used }
func (rb *RetryBudget) Reset()         { rb.used = 0 }
