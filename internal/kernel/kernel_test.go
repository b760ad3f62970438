package kernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"hubwatch/pkg/hubwatch"
)

type stubModule struct {
	name string
	spec hubwatch.ModuleSpec

	registered atomic.Int64
	started    atomic.Int64
	shutdown   atomic.Int64

	onRegister func(ctx context.Context, runtime hubwatch.ModuleRuntime) error
	onStart    func(ctx context.Context) error
}

func (m *stubModule) Name() string              { return m.name }
func (m *stubModule) Spec() hubwatch.ModuleSpec { return m.spec }

func (m *stubModule) OnRegister(ctx context.Context, runtime hubwatch.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(ctx context.Context) error {
	m.started.Add(1)
	if m.onStart != nil {
		return m.onStart(ctx)
	}

	return nil
}

func (m *stubModule) OnShutdown(_ context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name string

	started atomic.Int64
	stopped atomic.Int64
}

func (d *stubDriver) Name() string { return d.name }

func (d *stubDriver) Start(ctx context.Context, _ hubwatch.EventSink) error {
	d.started.Add(1)
	<-ctx.Done()

	return ctx.Err()
}

func (d *stubDriver) Shutdown(_ context.Context) error {
	d.stopped.Add(1)
	return nil
}

func newTestEvent(kind hubwatch.EventKind) *hubwatch.Event {
	return &hubwatch.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: time.Now(),
		Platform:   hubwatch.PlatformTelegram,
		Conversation: hubwatch.Conversation{
			ID:   "chat-1",
			Type: hubwatch.ConversationTypeGroup,
		},
		Actor:   hubwatch.Actor{ID: "user-1"},
		Message: &hubwatch.Message{ID: "msg-1", Text: "hello"},
	}
}

// TestKernelRunCallsModuleLifecycle verifies lifecycle hook execution during run/shutdown.
func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	kernelRuntime := New()

	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() == 0 {
		t.Fatal("module OnRegister was not called")
	}
	if module.started.Load() == 0 {
		t.Fatal("module OnStart was not called")
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called")
	}
	if driver.started.Load() == 0 {
		t.Fatal("driver Start was not called")
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

// TestKernelRunWithoutDriverFails verifies Run rejects a driverless kernel.
func TestKernelRunWithoutDriverFails(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	if err := kernelRuntime.Run(context.Background()); err == nil {
		t.Fatal("expected run without driver to fail")
	}
}

// TestRegisterModuleRejectsDuplicates verifies duplicate module and command names fail.
func TestRegisterModuleRejectsDuplicates(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()

	first := &stubModule{
		name: "alpha",
		spec: hubwatch.ModuleSpec{
			Commands: []hubwatch.CommandSpec{{Name: "stats", Description: "show stats"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), first); err != nil {
		t.Fatalf("register first module failed: %v", err)
	}

	sameName := &stubModule{name: "alpha"}
	if err := kernelRuntime.RegisterModule(context.Background(), sameName); !errors.Is(err, hubwatch.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate module error = %v, want %v", err, hubwatch.ErrModuleAlreadyRegistered)
	}

	sameCommand := &stubModule{
		name: "beta",
		spec: hubwatch.ModuleSpec{
			Commands: []hubwatch.CommandSpec{{Name: "stats", Description: "other stats"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), sameCommand); err == nil {
		t.Fatal("expected duplicate command registration to fail")
	}
}

// TestRegisterModuleRollsBackOnRegisterFailure verifies a failed OnRegister leaves no trace.
func TestRegisterModuleRollsBackOnRegisterFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()

	failing := &stubModule{
		name: "flaky",
		spec: hubwatch.ModuleSpec{
			Commands: []hubwatch.CommandSpec{{Name: "flake", Description: "fails"}},
		},
		onRegister: func(_ context.Context, _ hubwatch.ModuleRuntime) error {
			return errors.New("boom")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected registration failure")
	}

	retry := &stubModule{
		name: "flaky",
		spec: hubwatch.ModuleSpec{
			Commands: []hubwatch.CommandSpec{{Name: "flake", Description: "retries"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), retry); err != nil {
		t.Fatalf("re-registration after rollback failed: %v", err)
	}
}

// TestPublishDispatchesInRegistrationOrder verifies handlers of one event run
// sequentially across modules in the order modules were registered.
func TestPublishDispatchesInRegistrationOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	kernelRuntime := New()

	var mu sync.Mutex
	var seen []string
	record := func(label string) hubwatch.EventHandler {
		return func(_ context.Context, _ *hubwatch.Event) error {
			mu.Lock()
			seen = append(seen, label)
			mu.Unlock()

			return nil
		}
	}

	interest := hubwatch.InterestSet{Kinds: []hubwatch.EventKind{hubwatch.EventKindMessageCreated}}
	for _, name := range []string{"first", "second", "third"} {
		module := &stubModule{
			name: name,
			spec: hubwatch.ModuleSpec{
				Handlers: []hubwatch.ModuleHandler{
					{Name: name + "-handler", Interest: interest, Handler: record(name)},
				},
			},
		}
		if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
			t.Fatalf("register module %s failed: %v", name, err)
		}
	}

	if err := kernelRuntime.Publish(context.Background(), newTestEvent(hubwatch.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("handled %d events, want 3", count)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for idx, want := range []string{"first", "second", "third"} {
		if seen[idx] != want {
			t.Fatalf("dispatch order = %v, want [first second third]", seen)
		}
	}
}

// TestPublishIsolatesHandlerFailures verifies a panicking handler does not block siblings.
func TestPublishIsolatesHandlerFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var asyncErrors atomic.Int64
	kernelRuntime := New(WithAsyncErrorHandler(func(_ context.Context, _ string, _ error) {
		asyncErrors.Add(1)
	}))

	handled := make(chan struct{}, 1)
	interest := hubwatch.InterestSet{Kinds: []hubwatch.EventKind{hubwatch.EventKindMessageCreated}}

	panicky := &stubModule{
		name: "panicky",
		spec: hubwatch.ModuleSpec{
			Handlers: []hubwatch.ModuleHandler{
				{
					Name:     "panic-handler",
					Interest: interest,
					Handler: func(_ context.Context, _ *hubwatch.Event) error {
						panic("handler exploded")
					},
				},
			},
		},
	}
	steady := &stubModule{
		name: "steady",
		spec: hubwatch.ModuleSpec{
			Handlers: []hubwatch.ModuleHandler{
				{
					Name:     "steady-handler",
					Interest: interest,
					Handler: func(_ context.Context, _ *hubwatch.Event) error {
						handled <- struct{}{}
						return nil
					},
				},
			},
		},
	}
	for _, module := range []*stubModule{panicky, steady} {
		if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
			t.Fatalf("register module %s failed: %v", module.name, err)
		}
	}

	if err := kernelRuntime.Publish(context.Background(), newTestEvent(hubwatch.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("steady handler never ran after sibling panic")
	}
	if asyncErrors.Load() == 0 {
		t.Fatal("panic was not reported to the async error sink")
	}
}

// TestPublishRejectsInvalidEvent verifies event validation happens before dispatch.
func TestPublishRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	if err := kernelRuntime.Publish(context.Background(), &hubwatch.Event{}); !errors.Is(err, hubwatch.ErrInvalidEvent) {
		t.Fatalf("publish invalid event error = %v, want %v", err, hubwatch.ErrInvalidEvent)
	}
}

// TestCommandCatalogListsSorted verifies the command catalog service output ordering.
func TestCommandCatalogListsSorted(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	module := &stubModule{
		name: "commands",
		spec: hubwatch.ModuleSpec{
			Commands: []hubwatch.CommandSpec{
				{Name: "stats", Description: "chat stats"},
				{Name: "deploy", Description: "deploy estimate"},
				{Name: "help", Description: "list commands"},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	catalog, err := hubwatch.ResolveAs[hubwatch.CommandCatalog](kernelRuntime.Services(), hubwatch.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve command catalog failed: %v", err)
	}

	listed := catalog.ListCommands()
	wantOrder := []string{"deploy", "help", "stats"}
	if len(listed) != len(wantOrder) {
		t.Fatalf("listed %d commands, want %d", len(listed), len(wantOrder))
	}
	for idx, want := range wantOrder {
		if listed[idx].Name != want {
			t.Fatalf("command[%d] = %s, want %s", idx, listed[idx].Name, want)
		}
	}
}
