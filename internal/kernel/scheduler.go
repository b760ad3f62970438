package kernel

import (
	"context"
	"sync"
	"time"

	"hubwatch/pkg/hubwatch"
)

// Scheduler runs delayed callbacks on tracked goroutines. Cancelling a handle
// before the delay elapses guarantees the callback never runs.
type Scheduler struct {
	cfg config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewScheduler creates a scheduler whose callbacks receive a context derived
// from the scheduler lifetime.
func NewScheduler(options ...Option) *Scheduler {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

type timerHandle struct {
	scheduler *Scheduler
	timer     *time.Timer

	mu       sync.Mutex
	resolved bool
}

// Cancel stops the pending callback. It returns true on the first call that
// prevents the callback from running, false once the timer already fired or
// was cancelled before.
func (h *timerHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resolved {
		return false
	}
	h.resolved = true
	h.timer.Stop()
	h.scheduler.pending.Done()

	return true
}

// claimFired claims the handle for the firing path. It returns false when a
// concurrent Cancel won the race.
func (h *timerHandle) claimFired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resolved {
		return false
	}
	h.resolved = true

	return true
}

// noopHandle is returned after the scheduler closes.
type noopHandle struct{}

func (noopHandle) Cancel() bool { return false }

// Schedule runs fn once after delay. The returned handle cancels the pending
// run; cancellation after firing is a no-op.
func (s *Scheduler) Schedule(delay time.Duration, fn func(ctx context.Context)) hubwatch.TimerHandle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return noopHandle{}
	}
	s.pending.Add(1)
	s.mu.Unlock()

	handle := &timerHandle{scheduler: s}
	handle.timer = time.AfterFunc(delay, func() {
		if !handle.claimFired() {
			return
		}
		defer s.pending.Done()

		if err := runSafely("scheduled task", func() error {
			fn(s.baseCtx)
			return nil
		}); err != nil {
			s.cfg.onAsyncError(s.baseCtx, "scheduler", err)
		}
	})

	return handle
}

// Close cancels the callback context and waits for in-flight callbacks. Timers
// still pending keep their delay; callers should cancel handles they own
// before closing.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ hubwatch.Scheduler = (*Scheduler)(nil)
var _ hubwatch.TimerHandle = (*timerHandle)(nil)
