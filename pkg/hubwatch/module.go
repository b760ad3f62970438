package hubwatch

import (
	"context"
	"fmt"
)

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error

// InterestSet declares which inbound events a handler receives.
type InterestSet struct {
	// Kinds restricts delivery to the listed event kinds.
	Kinds []EventKind
	// CommandNames restricts command.received delivery to the listed names.
	CommandNames []string
}

// Matches reports whether an event satisfies this interest declaration.
func (s InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(s.Kinds) > 0 {
		matched := false
		for _, kind := range s.Kinds {
			if event.Kind == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(s.CommandNames) > 0 {
		if event.Command == nil {
			return false
		}
		matched := false
		for _, name := range s.CommandNames {
			if event.Command.Name == name {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// ModuleHandler binds one event handler to its interest declaration.
type ModuleHandler struct {
	// Name identifies the handler for logging and diagnostics.
	Name string
	// Interest selects which events this handler receives.
	Interest InterestSet
	// Handler is the processing function.
	Handler EventHandler
}

// ModuleSpec declares a module's handlers and commands.
type ModuleSpec struct {
	// Handlers lists event handlers owned by the module.
	Handlers []ModuleHandler
	// Commands lists user-facing commands owned by the module.
	Commands []CommandSpec
}

// Validate checks declarative module definitions for coherence.
func (s ModuleSpec) Validate() error {
	seenHandlers := make(map[string]struct{}, len(s.Handlers))
	for index, handler := range s.Handlers {
		if handler.Name == "" {
			return fmt.Errorf("module handler %d: empty name", index)
		}
		if _, exists := seenHandlers[handler.Name]; exists {
			return fmt.Errorf("module handler %d: duplicate name %s", index, handler.Name)
		}
		seenHandlers[handler.Name] = struct{}{}
		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Name)
		}
	}

	seenCommands := make(map[string]struct{}, len(s.Commands))
	for index, command := range s.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
		if _, exists := seenCommands[command.Name]; exists {
			return fmt.Errorf("module command %d: duplicate command %s", index, command.Name)
		}
		seenCommands[command.Name] = struct{}{}
	}

	return nil
}

// ModuleRuntime provides runtime facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
}

// Module is a lifecycle-aware feature plugin.
//
// Handlers can run on multiple goroutines, so modules must be
// concurrency-safe.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec returns declarative handler and command metadata.
	Spec() ModuleSpec
	// OnRegister is called once when the module is registered.
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
	// OnStart is called when the runtime begins execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}
