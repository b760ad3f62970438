// Package monitor polls model-hub publishers for new releases and announces
// them to a configured conversation.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"hubwatch/pkg/hub"
	"hubwatch/pkg/hubwatch"
)

const (
	moduleName          = "monitor"
	defaultPollInterval = time.Minute
)

// HubClient is the slice of the model-hub API the monitor depends on.
type HubClient interface {
	ListModels(ctx context.Context, publisher string) ([]hub.ModelRef, error)
	GetModelInfo(ctx context.Context, modelID string) (*hub.ModelInfo, error)
	GetReadme(ctx context.Context, modelID string) (string, error)
}

// Config carries monitor settings.
type Config struct {
	// Publishers lists the publisher accounts to poll.
	Publishers []string
	// NotifyConversationID is the conversation that receives announcements.
	NotifyConversationID string
	// PollInterval is the delay between polling cycles; zero selects the
	// one-minute default.
	PollInterval time.Duration
	// SummaryProfile selects the LLM provider used for release summaries.
	// Empty disables summaries.
	SummaryProfile string
	// SummaryModel overrides the provider's default summary model.
	SummaryModel string
}

func (c Config) validate() error {
	if len(c.Publishers) == 0 {
		return fmt.Errorf("monitor config: no publishers")
	}
	for index, publisher := range c.Publishers {
		if strings.TrimSpace(publisher) == "" {
			return fmt.Errorf("monitor config: empty publisher at %d", index)
		}
	}
	if strings.TrimSpace(c.NotifyConversationID) == "" {
		return fmt.Errorf("monitor config: missing notify conversation id")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("monitor config: negative poll interval")
	}

	return nil
}

// Module is the release-monitoring module.
type Module struct {
	cfg Config
	hub HubClient

	logger     *slog.Logger
	store      hubwatch.StateStore
	outbound   hubwatch.OutboundDispatcher
	supervisor hubwatch.Supervisor
	llm        hubwatch.LLMProvider
}

// New creates the monitor module.
func New(cfg Config, client HubClient) (*Module, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("monitor: nil hub client")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Module{cfg: cfg, hub: client}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec returns declarative module metadata. The monitor owns no inbound
// handlers or commands.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("monitor register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.store, err = hubwatch.ResolveAs[hubwatch.StateStore](services, hubwatch.ServiceStateStore); err != nil {
		return fmt.Errorf("monitor register: %w", err)
	}
	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("monitor register: %w", err)
	}
	if m.supervisor, err = hubwatch.ResolveAs[hubwatch.Supervisor](services, hubwatch.ServiceSupervisor); err != nil {
		return fmt.Errorf("monitor register: %w", err)
	}

	if m.cfg.SummaryProfile != "" {
		registry, err := hubwatch.ResolveAs[hubwatch.LLMProviderRegistry](services, hubwatch.ServiceLLMProviderRegistry)
		if err != nil {
			return fmt.Errorf("monitor register: %w", err)
		}
		if m.llm, err = registry.Resolve(m.cfg.SummaryProfile); err != nil {
			return fmt.Errorf("monitor register: %w", err)
		}
	}

	return nil
}

// OnStart launches the polling loop as a supervised background task.
func (m *Module) OnStart(_ context.Context) error {
	m.supervisor.Go("monitor-poll", m.pollLoop)

	return nil
}

// OnShutdown completes immediately; the poll loop exits with the supervisor.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) pollLoop(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitoring started",
		"publishers", len(m.cfg.Publishers), "interval", m.cfg.PollInterval)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.PollOnce(ctx); err != nil {
			m.logger.ErrorContext(ctx, "polling cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce executes a single monitoring cycle across all publishers.
//
// Listings are fetched concurrently; a publisher whose fetch fails is
// skipped for this cycle without disturbing the others. State is persisted
// at most once per cycle and only when a listing actually changed.
func (m *Module) PollOnce(ctx context.Context) error {
	tasks := make([]func(ctx context.Context) ([]string, error), len(m.cfg.Publishers))
	for index, publisher := range m.cfg.Publishers {
		publisher := publisher
		tasks[index] = func(ctx context.Context) ([]string, error) {
			refs, err := m.hub.ListModels(ctx, publisher)
			if err != nil {
				return nil, fmt.Errorf("list models for %s: %w", publisher, err)
			}
			return dedupeModels(refs), nil
		}
	}
	results := hubwatch.GatherTasks(ctx, tasks)

	previous := make(map[string][]string, len(m.cfg.Publishers))
	known := make(map[string]bool, len(m.cfg.Publishers))
	m.store.View(func(doc *hubwatch.StateDocument) {
		for _, publisher := range m.cfg.Publishers {
			state, exists := doc.Orgs[publisher]
			if exists {
				previous[publisher] = slices.Clone(state.Models)
			}
			known[publisher] = exists
		}
	})

	updates := make(map[string][]string)
	for index, publisher := range m.cfg.Publishers {
		result := results[index]
		if !result.Ok() {
			m.logger.WarnContext(ctx, "publisher fetch failed",
				"publisher", publisher, "error", result.Err)
			continue
		}
		current := result.Value
		if len(current) == 0 {
			continue
		}

		diff := diffListing(current, previous[publisher], known[publisher])
		if diff.BaselineSync {
			m.logger.InfoContext(ctx, "baseline sync",
				"publisher", publisher, "models", len(current))
		}
		for _, modelID := range diff.Announce {
			m.notifyNewModel(ctx, publisher, modelID)
		}
		if len(diff.Announce) > 0 {
			m.logger.InfoContext(ctx, "announced new models",
				"publisher", publisher,
				"announced", len(diff.Announce),
				"variants_suppressed", len(diff.SuppressedVariants))
		} else if len(diff.SuppressedVariants) > 0 {
			m.logger.InfoContext(ctx, "suppressed variant models",
				"publisher", publisher, "variants", len(diff.SuppressedVariants))
		}

		if diff.UpdateState {
			updates[publisher] = current
		}
	}

	if len(updates) == 0 {
		return nil
	}
	err := m.store.Update(func(doc *hubwatch.StateDocument) {
		for publisher, models := range updates {
			doc.Orgs[publisher] = hubwatch.PublisherState{Models: models}
		}
	})
	if err != nil {
		return fmt.Errorf("persist publisher listings: %w", err)
	}

	return nil
}

var _ hubwatch.Module = (*Module)(nil)
