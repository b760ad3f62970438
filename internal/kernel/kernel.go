package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"hubwatch/pkg/hubwatch"
)

// Kernel is the runtime core orchestrating modules, the platform driver, and
// inbound event dispatch.
type Kernel struct {
	cfg config

	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	commands    map[string]hubwatch.CommandSpec
	driver      hubwatch.Driver

	dispatchWG sync.WaitGroup

	runMu   sync.Mutex
	running bool
}

type moduleRecord struct {
	name     string
	module   hubwatch.Module
	handlers []hubwatch.ModuleHandler
}

type moduleRuntime struct {
	services hubwatch.ServiceRegistry
}

func (r *moduleRuntime) Services() hubwatch.ServiceRegistry {
	return r.services
}

// New creates a new kernel runtime.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	kernelRuntime := &Kernel{
		cfg:         cfg,
		services:    NewServiceRegistry(),
		modules:     make(map[string]*moduleRecord),
		moduleOrder: make([]string, 0),
		commands:    make(map[string]hubwatch.CommandSpec),
	}
	if err := kernelRuntime.services.Register(
		hubwatch.ServiceCommandCatalog,
		&kernelCommandCatalog{kernel: kernelRuntime},
	); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return kernelRuntime
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() hubwatch.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule registers a lifecycle-aware module and runs its registration hook.
func (k *Kernel) RegisterModule(ctx context.Context, module hubwatch.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{
		name:     name,
		module:   module,
		handlers: spec.Handlers,
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, hubwatch.ErrModuleAlreadyRegistered)
	}
	for _, command := range spec.Commands {
		if _, exists := k.commands[command.Name]; exists {
			k.mu.Unlock()
			return fmt.Errorf("register module %s: duplicate command /%s", name, command.Name)
		}
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	for _, command := range spec.Commands {
		k.commands[command.Name] = command
	}
	k.mu.Unlock()

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if err := runSafely("module "+name+" OnRegister", func() error {
		return module.OnRegister(hookCtx, &moduleRuntime{services: k.services})
	}); err != nil {
		k.rollbackModuleRegistration(name, spec.Commands)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	return nil
}

// RegisterDriver registers the platform driver. Exactly one driver is supported.
func (k *Kernel) RegisterDriver(driver hubwatch.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	if driver.Name() == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.driver != nil {
		return fmt.Errorf("register driver %s: driver %s already registered", driver.Name(), k.driver.Name())
	}
	k.driver = driver

	return nil
}

// Run starts modules, runs the driver, and blocks until cancellation or fatal
// driver error.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	k.mu.RLock()
	driver := k.driver
	k.mu.RUnlock()
	if driver == nil {
		return fmt.Errorf("kernel run: no driver registered")
	}

	if err := k.startModules(ctx); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr := make(chan error, 1)
	go func() {
		driverErr <- runSafely("driver "+driver.Name()+" Start", func() error {
			return driver.Start(runCtx, k)
		})
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	runCancel()

	shutdownErr := k.shutdownAll(ctx, driver)

	if isContextCancellation(runErr) {
		runErr = nil
	}
	if runErr != nil && shutdownErr != nil {
		return errors.Join(runErr, shutdownErr)
	}
	if runErr != nil {
		return runErr
	}

	return shutdownErr
}

// Publish dispatches one inbound event to all interested module handlers.
//
// Events are processed on a tracked goroutine; handlers for one event run
// sequentially in module registration order, so an observer registered before
// a responder always sees the event first. A handler failure is reported via
// the async error sink and never aborts sibling handlers.
func (k *Kernel) Publish(ctx context.Context, event *hubwatch.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	k.mu.RLock()
	order := append([]string(nil), k.moduleOrder...)
	modules := make(map[string]*moduleRecord, len(k.modules))
	for name, record := range k.modules {
		modules[name] = record
	}
	k.mu.RUnlock()

	k.dispatchWG.Add(1)
	go func() {
		defer k.dispatchWG.Done()

		for _, name := range order {
			record := modules[name]
			if record == nil {
				continue
			}
			for _, handler := range record.handlers {
				if !handler.Interest.Matches(event) {
					continue
				}
				handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.handlerTimeout)
				err := runSafely("handler "+name+"/"+handler.Name, func() error {
					return handler.Handler(handlerCtx, event)
				})
				cancel()
				if err != nil {
					k.cfg.onAsyncError(ctx, "dispatch "+name+"/"+handler.Name, err)
				}
			}
		}
	}()

	return nil
}

// startRun serializes Run invocations and rejects concurrent starts.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order with per-module timeouts.
func (k *Kernel) startModules(ctx context.Context) error {
	k.mu.RLock()
	order := append([]string(nil), k.moduleOrder...)
	modules := make(map[string]*moduleRecord, len(k.modules))
	for name, record := range k.modules {
		modules[name] = record
	}
	k.mu.RUnlock()

	for _, name := range order {
		record, exists := modules[name]
		if !exists {
			continue
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", name, err)
		}
	}

	return nil
}

// shutdownAll tears down the driver, in-flight dispatches, and modules within
// a bounded timeout window. It uses WithoutCancel so cleanup still runs after
// parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context, driver hubwatch.Driver) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
		return driver.Shutdown(shutdownCtx)
	}); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	k.waitDispatches(shutdownCtx)

	if err := k.shutdownModules(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// waitDispatches blocks until in-flight event dispatches finish or ctx expires.
func (k *Kernel) waitDispatches(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		k.dispatchWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// shutdownModules invokes OnShutdown in reverse registration order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	k.mu.RLock()
	order := append([]string(nil), k.moduleOrder...)
	modules := make(map[string]*moduleRecord, len(k.modules))
	for name, record := range k.modules {
		modules[name] = record
	}
	k.mu.RUnlock()

	var shutdownErr error
	for idx := len(order) - 1; idx >= 0; idx-- {
		record := modules[order[idx]]
		if record == nil {
			continue
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

// rollbackModuleRegistration removes a partially registered module after an
// OnRegister failure.
func (k *Kernel) rollbackModuleRegistration(name string, commands []hubwatch.CommandSpec) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.modules, name)
	k.moduleOrder = removeOrderedName(k.moduleOrder, name)
	for _, command := range commands {
		delete(k.commands, command.Name)
	}
}

// kernelCommandCatalog exposes registered commands as a resolvable service.
type kernelCommandCatalog struct {
	kernel *Kernel
}

// ListCommands returns all declared commands sorted by name.
func (c *kernelCommandCatalog) ListCommands() []hubwatch.CommandSpec {
	c.kernel.mu.RLock()
	defer c.kernel.mu.RUnlock()

	listed := make([]hubwatch.CommandSpec, 0, len(c.kernel.commands))
	for _, command := range c.kernel.commands {
		listed = append(listed, command)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	return listed
}

// removeOrderedName removes one name while preserving remaining order.
func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ hubwatch.EventSink = (*Kernel)(nil)
var _ hubwatch.CommandCatalog = (*kernelCommandCatalog)(nil)
