// Package hubinfo serves direct model-hub lookups: /info and /deploy for a
// named model, /orgs for the monitored publisher list, /random for a random
// popular model.
package hubinfo

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"hubwatch/internal/format"
	"hubwatch/pkg/hub"
	"hubwatch/pkg/hubwatch"
)

const moduleName = "hubinfo"

const usageExample = "Qwen/Qwen2-72B-Instruct"

// HubClient is the subset of the model hub API this module needs.
type HubClient interface {
	GetModelInfo(ctx context.Context, modelID string) (*hub.ModelInfo, error)
	GetRandomModel(ctx context.Context) (*hub.ModelInfo, error)
}

// Config carries hubinfo settings.
type Config struct {
	// Publishers is the monitored publisher list shown by /orgs.
	Publishers []string
}

// Module is the hub lookup module.
type Module struct {
	cfg Config
	hub HubClient

	logger   *slog.Logger
	outbound hubwatch.OutboundDispatcher
}

// New creates the hubinfo module.
func New(cfg Config, client HubClient) (*Module, error) {
	if client == nil {
		return nil, fmt.Errorf("hubinfo: nil hub client")
	}

	return &Module{cfg: cfg, hub: client}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares the four lookup commands.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{
		Handlers: []hubwatch.ModuleHandler{
			{
				Name: "hubinfo-commands",
				Interest: hubwatch.InterestSet{
					Kinds:        []hubwatch.EventKind{hubwatch.EventKindCommandReceived},
					CommandNames: []string{"info", "deploy", "orgs", "random"},
				},
				Handler: m.handleCommand,
			},
		},
		Commands: []hubwatch.CommandSpec{
			{Name: "info", Description: "Model card for a hub model", Usage: "/info author/model"},
			{Name: "deploy", Description: "GPU estimate for deploying a model", Usage: "/deploy author/model"},
			{Name: "orgs", Description: "Monitored publisher list"},
			{Name: "random", Description: "Random popular model"},
		},
	}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("hubinfo register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("hubinfo register: %w", err)
	}

	return nil
}

// OnStart completes immediately.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown completes immediately.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *hubwatch.Event) error {
	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("hubinfo target: %w", err)
	}

	var text string
	switch event.Command.Name {
	case "info":
		text = m.modelCard(ctx, event.Command.ArgText())
	case "deploy":
		text = m.deployReport(ctx, event.Command.ArgText())
	case "orgs":
		text = m.orgsList()
	case "random":
		text = m.randomModel(ctx)
	default:
		return nil
	}

	_, err = m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:             target,
		Text:               text,
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("hubinfo %s delivery: %w", event.Command.Name, err)
	}

	return nil
}

func (m *Module) modelCard(ctx context.Context, modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return format.Usage("info", usageExample)
	}

	model, err := m.hub.GetModelInfo(ctx, modelID)
	if err != nil {
		m.logger.ErrorContext(ctx, "model info lookup failed", "model", modelID, "error", err)
		return format.GenericError()
	}
	if model == nil {
		return format.ModelNotFound(modelID)
	}

	return format.ModelCard(*model)
}

func (m *Module) deployReport(ctx context.Context, modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return format.Usage("deploy", usageExample)
	}

	model, err := m.hub.GetModelInfo(ctx, modelID)
	if err != nil {
		m.logger.ErrorContext(ctx, "model info lookup failed", "model", modelID, "error", err)
		return format.GenericError()
	}
	if model == nil {
		return format.ModelNotFound(modelID)
	}

	estimate := hub.EstimateDeploy(*model)
	if estimate == nil {
		return fmt.Sprintf("🖥️ Could not size <code>%s</code>.\n\n"+
			"<i>The model has no safetensors data with parameter counts and weight precision.</i>",
			html.EscapeString(modelID))
	}

	return format.DeployReport(estimate, modelID)
}

func (m *Module) orgsList() string {
	if len(m.cfg.Publishers) == 0 {
		return "🤔 The publisher list is empty."
	}

	return format.OrgsList(m.cfg.Publishers)
}

func (m *Module) randomModel(ctx context.Context) string {
	model, err := m.hub.GetRandomModel(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "random model lookup failed", "error", err)
		return format.GenericError()
	}
	if model == nil {
		return "🎲 Could not find a random model. Roll again!"
	}

	return format.RandomModel(*model)
}

var _ hubwatch.Module = (*Module)(nil)
