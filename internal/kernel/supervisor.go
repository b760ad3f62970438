package kernel

import (
	"context"
	"sync"

	"hubwatch/pkg/hubwatch"
)

// Supervisor tracks fire-and-forget background tasks so shutdown can drain
// them. Task failures and panics are reported through the async error sink
// and never crash the process.
type Supervisor struct {
	cfg config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewSupervisor creates a supervisor whose tasks receive a context derived
// from the supervisor lifetime.
func NewSupervisor(options ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Supervisor{
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Go runs fn on a tracked goroutine. A closed supervisor drops the task.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inFlight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inFlight.Done()

		if err := runSafely("task "+name, func() error {
			return fn(s.baseCtx)
		}); err != nil {
			s.cfg.onAsyncError(s.baseCtx, "supervisor task "+name, err)
		}
	}()
}

// Drain cancels the task context and waits for in-flight tasks to finish.
func (s *Supervisor) Drain(ctx context.Context) error {
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
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ hubwatch.Supervisor = (*Supervisor)(nil)
