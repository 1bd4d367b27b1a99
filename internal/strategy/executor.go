// executor.go runs level executions one at a time.
//
// The executor is a single worker over a bounded FIFO queue. Enqueues beyond
// capacity are rejected immediately rather than blocking the webhook path;
// the caller surfaces the rejection and the trigger is lost by design — a
// full queue means executions are already far behind the market. A rate
// limiter enforces minimum spacing between consecutive executions so the
// venue never sees order bursts.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"optionflow/pkg/types"
)

// ErrQueueFull means the execution queue is at capacity.
var ErrQueueFull = errors.New("execution queue full")

// ExecutionTask asks the worker to execute one monitor event for one level.
// It carries ids rather than loaded state; the worker reloads from the store
// so queued duplicates see the level's latest status.
type ExecutionTask struct {
	StrategyID     string
	LevelID        string
	MonitorType    types.MonitorType
	TargetPrice    float64
	TriggeredPrice float64
	Direction      string
}

// ExecutionResult is the outcome of one execution attempt.
type ExecutionResult struct {
	Success     bool
	Skipped     bool // level was no longer eligible; nothing was recorded
	Message     string
	OrderID     string
	OrderLinkID string
}

type executeFunc func(ctx context.Context, task ExecutionTask) (ExecutionResult, error)

// Executor serializes level executions with inter-order spacing.
type Executor struct {
	queue   chan ExecutionTask
	limiter *rate.Limiter
	execute executeFunc
	logger  *slog.Logger
}

// NewExecutor creates an executor with the given queue capacity and minimum
// spacing between executions.
func NewExecutor(capacity int, spacing time.Duration, execute executeFunc, logger *slog.Logger) *Executor {
	return &Executor{
		queue:   make(chan ExecutionTask, capacity),
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		execute: execute,
		logger:  logger.With("component", "executor"),
	}
}

// Enqueue adds a task to the queue, rejecting when full.
func (e *Executor) Enqueue(task ExecutionTask) error {
	select {
	case e.queue <- task:
		return nil
	default:
		e.logger.Error("execution queue full, rejecting task",
			"strategy_id", task.StrategyID, "level_id", task.LevelID, "monitor_type", task.MonitorType)
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks.
func (e *Executor) Pending() int { return len(e.queue) }

// Run drains the queue until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.queue:
			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
			result, err := e.execute(ctx, task)
			switch {
			case err != nil:
				e.logger.Error("execution errored",
					"strategy_id", task.StrategyID, "level_id", task.LevelID,
					"monitor_type", task.MonitorType, "error", err)
			case result.Skipped:
				e.logger.Info("execution skipped",
					"strategy_id", task.StrategyID, "level_id", task.LevelID,
					"monitor_type", task.MonitorType, "message", result.Message)
			default:
				e.logger.Info("execution finished",
					"strategy_id", task.StrategyID, "level_id", task.LevelID,
					"monitor_type", task.MonitorType, "success", result.Success,
					"order_id", result.OrderID, "message", result.Message)
			}
		}
	}
}
