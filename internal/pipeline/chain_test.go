package pipeline

import (
	"context"
	"errors"
	"testing"
)

type item struct {
	visited []string
	hash    string
}

func stage(name string, run func(*item) StageResult) Stage[item] {
	return Stage[item]{Name: name, Run: func(_ context.Context, it *item) (StageResult, error) {
		it.visited = append(it.visited, name)
		return run(it), nil
	}}
}

func TestChain_RunsAllStagesWhenEveryoneContinues(t *testing.T) {
	c := NewChain(
		stage("a", func(it *item) StageResult { return Continue() }),
		stage("b", func(it *item) StageResult { return Continue() }),
	)
	it := &item{}
	outcome, err := c.Run(context.Background(), it)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted() {
		t.Fatalf("expected accept, got %+v", outcome)
	}
	if len(it.visited) != 2 {
		t.Fatalf("expected both stages to run, got %v", it.visited)
	}
}

func TestChain_StopsAtFirstTerminalStage(t *testing.T) {
	c := NewChain(
		stage("a", func(it *item) StageResult { return Stop(Reject(RejectSelfDuplicate, "dup")) }),
		stage("b", func(it *item) StageResult { return Continue() }),
	)
	it := &item{}
	outcome, err := c.Run(context.Background(), it)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted() || outcome.Kind != RejectSelfDuplicate {
		t.Fatalf("expected self-duplicate reject, got %+v", outcome)
	}
	if len(it.visited) != 1 {
		t.Fatalf("expected stage b to be skipped, got %v", it.visited)
	}
}

func TestChain_StageErrorAborts(t *testing.T) {
	c := NewChain(Stage[item]{
		Name: "boom",
		Run: func(_ context.Context, it *item) (StageResult, error) {
			return StageResult{}, errors.New("fatal failure")
		},
	})
	_, err := c.Run(context.Background(), &item{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestChain_StagePanicIsRecoveredAsError(t *testing.T) {
	c := NewChain(Stage[item]{
		Name: "panics",
		Run: func(_ context.Context, it *item) (StageResult, error) {
			panic("boom")
		},
	})
	_, err := c.Run(context.Background(), &item{})
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
}

func TestChain_MutatesItemAcrossStages(t *testing.T) {
	c := NewChain(
		stage("compute-hash", func(it *item) StageResult {
			it.hash = "abc123"
			return Continue()
		}),
		stage("check-hash", func(it *item) StageResult {
			if it.hash != "abc123" {
				return Stop(Reject(RejectFatal, "hash missing"))
			}
			return Continue()
		}),
	)
	outcome, err := c.Run(context.Background(), &item{})
	if err != nil || !outcome.Accepted() {
		t.Fatalf("expected accept, got %+v, err=%v", outcome, err)
	}
}
