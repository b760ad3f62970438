package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestSupervisorRunsTask verifies tracked task execution.
func TestSupervisorRunsTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	supervisor := NewSupervisor()

	ran := make(chan struct{})
	supervisor.Go("probe", func(_ context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("supervised task never ran")
	}

	if err := supervisor.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

// TestSupervisorDrainCancelsTaskContext verifies long-running tasks observe drain.
func TestSupervisorDrainCancelsTaskContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	supervisor := NewSupervisor()

	started := make(chan struct{})
	supervisor.Go("long-poll", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()

		return nil
	})
	<-started

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := supervisor.Drain(drainCtx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

// TestSupervisorReportsFailures verifies errors and panics reach the async sink.
func TestSupervisorReportsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var reports atomic.Int64
	supervisor := NewSupervisor(WithAsyncErrorHandler(func(_ context.Context, _ string, _ error) {
		reports.Add(1)
	}))

	supervisor.Go("fails", func(_ context.Context) error {
		return errors.New("task failed")
	})
	supervisor.Go("panics", func(_ context.Context) error {
		panic("task exploded")
	})

	if err := supervisor.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := reports.Load(); got != 2 {
		t.Fatalf("async error reports = %d, want 2", got)
	}
}

// TestSupervisorDropsTasksAfterDrain verifies a drained supervisor accepts no work.
func TestSupervisorDropsTasksAfterDrain(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	if err := supervisor.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	supervisor.Go("late", func(_ context.Context) error {
		t.Error("task ran on a drained supervisor")
		return nil
	})

	time.Sleep(20 * time.Millisecond)
}
