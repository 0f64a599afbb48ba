package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepmark/deepmark/internal/tracing"
)

// recoverStage runs fn inside a deferred recover so a panicking stage does
// not crash the entire process. A caught panic is converted into an error
// that includes the stage name.
func recoverStage(name string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("stage %s: panic: %v", name, r)
		}
	}()
	return fn()
}

// Chain executes an ordered sequence of Stage[T] against one item, stopping
// at the first stage that returns Stop(outcome) — "first match wins", per
// the decision procedure's state-machine semantics. If every stage
// continues, the chain accepts.
type Chain[T any] struct {
	stages []Stage[T]

	mu      sync.RWMutex
	timings map[string]time.Duration
}

// NewChain creates a Chain from the given stages, run in the order provided.
func NewChain[T any](stages ...Stage[T]) *Chain[T] {
	return &Chain[T]{
		stages:  stages,
		timings: make(map[string]time.Duration),
	}
}

// Run drives item through every stage in order. It returns the terminal
// Outcome (Accept if no stage stopped it early) or an error if a stage
// failed outright (a Fatal condition, not a classified Reject).
func (c *Chain[T]) Run(ctx context.Context, item *T) (Outcome, error) {
	for _, st := range c.stages {
		name := st.Name
		stCtx, span := tracing.StartMiddlewareSpan(ctx, name, "stage")
		start := time.Now()

		var result StageResult
		err := recoverStage(name, func() error {
			var innerErr error
			result, innerErr = st.Run(stCtx, item)
			return innerErr
		})
		elapsed := time.Since(start)
		c.recordTiming(name, elapsed)

		if err != nil {
			tracing.RecordError(stCtx, err)
			span.End()
			return Outcome{}, fmt.Errorf("stage %s: %w", name, err)
		}
		span.End()

		if result.Done {
			return result.Outcome, nil
		}
	}
	return Accept(), nil
}

// Timings returns a snapshot of the latest per-stage execution times.
func (c *Chain[T]) Timings() map[string]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]time.Duration, len(c.timings))
	for k, v := range c.timings {
		snapshot[k] = v
	}
	return snapshot
}

func (c *Chain[T]) recordTiming(name string, d time.Duration) {
	c.mu.Lock()
	c.timings[name] = d
	c.mu.Unlock()
}
