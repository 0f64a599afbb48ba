package pipeline

import "context"

// StageResult is what a Stage returns after inspecting an item: either
// "continue" (Done=false, chain proceeds to the next stage) or a terminal
// Outcome the chain should stop and return immediately.
type StageResult struct {
	Done    bool
	Outcome Outcome
}

// Continue lets the chain proceed to the next stage.
func Continue() StageResult {
	return StageResult{Done: false}
}

// Stop terminates the chain with the given outcome.
func Stop(outcome Outcome) StageResult {
	return StageResult{Done: true, Outcome: outcome}
}

// Stage is one named step of a Chain[T]. It may mutate *item in place to
// pass state (e.g. a computed content hash) to later stages.
type Stage[T any] struct {
	Name string
	Run  func(ctx context.Context, item *T) (StageResult, error)
}
