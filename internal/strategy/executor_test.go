package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"optionflow/pkg/types"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)

	exec := NewExecutor(8, time.Millisecond, func(ctx context.Context, task ExecutionTask) (ExecutionResult, error) {
		mu.Lock()
		order = append(order, task.LevelID)
		mu.Unlock()
		done <- struct{}{}
		return ExecutionResult{Success: true}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, id := range []string{"l1", "l2", "l3"} {
		if err := exec.Enqueue(ExecutionTask{StrategyID: "s1", LevelID: id, MonitorType: types.MonitorEntry}); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go exec.Run(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("executor stalled")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "l1" || order[1] != "l2" || order[2] != "l3" {
		t.Errorf("execution order = %v, want [l1 l2 l3]", order)
	}
}

func TestExecutorRejectsWhenFull(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(1, time.Millisecond, func(ctx context.Context, task ExecutionTask) (ExecutionResult, error) {
		return ExecutionResult{}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := exec.Enqueue(ExecutionTask{LevelID: "l1"}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := exec.Enqueue(ExecutionTask{LevelID: "l2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Enqueue err = %v, want ErrQueueFull", err)
	}
	if exec.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", exec.Pending())
	}
}
