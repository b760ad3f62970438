package hubwatch

import (
	"context"
	"fmt"
	"sync"
)

// TaskResult is the outcome of one fan-out task: a value or a failure reason.
//
// Fan-out call sites collect TaskResults into a slice and fold them by task
// category instead of relying on error-as-sentinel gathers, so one failed
// sibling never aborts a batch.
type TaskResult[T any] struct {
	// Value is the task output when Err is nil.
	Value T
	// Err is the failure reason when the task did not produce a value.
	Err error
}

// Ok reports whether the task produced a usable value.
func (r TaskResult[T]) Ok() bool {
	return r.Err == nil
}

// GatherTasks runs all tasks concurrently and collects one TaskResult per
// task, preserving input order.
//
// A task that panics is recorded as a failed result; it never takes down
// sibling tasks or the caller.
func GatherTasks[T any](ctx context.Context, tasks []func(ctx context.Context) (T, error)) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for index, task := range tasks {
		if task == nil {
			results[index] = TaskResult[T]{Err: fmt.Errorf("gather tasks: nil task %d", index)}
			continue
		}

		wg.Add(1)
		go func(slot int, run func(ctx context.Context) (T, error)) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					results[slot] = TaskResult[T]{Err: fmt.Errorf("task %d: panic recovered: %v", slot, recovered)}
				}
			}()

			value, err := run(ctx)
			if err != nil {
				results[slot] = TaskResult[T]{Err: err}
				return
			}
			results[slot] = TaskResult[T]{Value: value}
		}(index, task)
	}
	wg.Wait()

	return results
}
