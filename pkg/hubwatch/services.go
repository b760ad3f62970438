package hubwatch

import (
	"context"
	"fmt"
	"time"
)

// Canonical service registry keys shared between the runtime and modules.
const (
	// ServiceLogger is the registry key for the shared *slog.Logger.
	ServiceLogger = "hubwatch.logger"
	// ServiceOutboundDispatcher is the registry key for outbound messaging.
	ServiceOutboundDispatcher = "hubwatch.outbound_dispatcher"
	// ServiceStateStore is the registry key for the durable state store.
	ServiceStateStore = "hubwatch.state_store"
	// ServiceScheduler is the registry key for delayed-callback scheduling.
	ServiceScheduler = "hubwatch.scheduler"
	// ServiceSupervisor is the registry key for fire-and-forget task tracking.
	ServiceSupervisor = "hubwatch.supervisor"
	// ServiceLLMProviderRegistry is the registry key for LLM provider lookup.
	ServiceLLMProviderRegistry = "hubwatch.llm_provider_registry"
	// ServiceCommandCatalog is the registry key for command listing.
	ServiceCommandCatalog = "hubwatch.command_catalog"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}

// TimerHandle controls one scheduled delayed callback.
type TimerHandle interface {
	// Cancel stops the callback if it has not fired yet.
	//
	// Cancel is idempotent: cancelling an already-fired or already-cancelled
	// timer returns false and has no other effect.
	Cancel() bool
}

// Scheduler runs callbacks after a delay and returns cancellable handles.
type Scheduler interface {
	// Schedule runs fn after delay unless the returned handle is cancelled first.
	Schedule(delay time.Duration, fn func(ctx context.Context)) TimerHandle
}

// Supervisor tracks fire-and-forget background tasks.
//
// Task errors and panics are logged and swallowed, never surfaced to the
// originating request. Outstanding tasks are drained at shutdown.
type Supervisor interface {
	// Go starts fn on a tracked goroutine identified by name.
	Go(name string, fn func(ctx context.Context) error)
}
