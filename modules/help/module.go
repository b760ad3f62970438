// Package help serves the onboarding commands /start and /help, plus the
// /agi status check that never finds any.
package help

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"hubwatch/pkg/hubwatch"
)

const moduleName = "help"

const separator = "━━━━━━━━━━━━━━━━━━━━"

var agiExcuses = []string{
	"Try again tomorrow.",
	"Wait for the next DeepSeek release.",
	"OpenAI promised it soon.",
	"Needs more H100s.",
	"A couple more training epochs.",
	"Scale is all you need.",
}

// Module is the onboarding module.
type Module struct {
	logger   *slog.Logger
	outbound hubwatch.OutboundDispatcher
	catalog  hubwatch.CommandCatalog

	// randIntn is swappable for deterministic tests.
	randIntn func(n int) int
}

// New creates the help module.
func New() *Module {
	return &Module{randIntn: rand.Intn}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares the onboarding commands.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{
		Handlers: []hubwatch.ModuleHandler{
			{
				Name: "help-commands",
				Interest: hubwatch.InterestSet{
					Kinds:        []hubwatch.EventKind{hubwatch.EventKindCommandReceived},
					CommandNames: []string{"help", "start", "agi"},
				},
				Handler: m.handleCommand,
			},
		},
		Commands: []hubwatch.CommandSpec{
			{Name: "start", Description: "Welcome message"},
			{Name: "help", Description: "What the bot does and how to talk to it"},
			{Name: "agi", Description: "Check whether AGI has arrived"},
		},
	}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("help register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("help register: %w", err)
	}
	if m.catalog, err = hubwatch.ResolveAs[hubwatch.CommandCatalog](services, hubwatch.ServiceCommandCatalog); err != nil {
		return fmt.Errorf("help register: %w", err)
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
		return fmt.Errorf("help target: %w", err)
	}

	var text string
	switch event.Command.Name {
	case "start":
		text = m.startMessage()
	case "help":
		text = m.helpMessage()
	case "agi":
		text = m.agiMessage()
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
		return fmt.Errorf("help %s delivery: %w", event.Command.Name, err)
	}

	return nil
}

func (m *Module) startMessage() string {
	return fmt.Sprintf(
		"👋 <b>Hi!</b>\n\n"+
			"I watch publishers on the <b>model hub</b> and send a heads-up "+
			"whenever something new drops.\n\n%s\n\n"+
			"🤖 <b>AI assistant</b>\n\n"+
			"Just write to me. I answer questions about models, compare them "+
			"on benchmarks, and suggest what to pick.\n\n%s\n\n%s\n\n%s\n\n"+
			"💡 <i>Release alerts arrive automatically</i>",
		separator, separator, m.commandList(), separator,
	)
}

func (m *Module) helpMessage() string {
	return fmt.Sprintf(
		"📖 <b>Help</b>\n\n%s\n\n"+
			"🔔 <b>Monitoring</b>\n\n"+
			"Every minute I check the hub for new models. Alerts arrive "+
			"automatically.\n\n%s\n\n"+
			"🤖 <b>AI assistant</b>\n\n"+
			"Just send a message without a command and I will answer.\n\n"+
			"Examples:\n"+
			"• <i>Compare Qwen3 and DeepSeek V3</i>\n"+
			"• <i>What kind of model is Mistral Large?</i>\n"+
			"• <i>Recommend a model for coding</i>\n\n"+
			"I read the model cards from the hub and compare benchmarks.\n\n%s\n\n%s\n\n%s\n\n"+
			"⚔️ <b>Duel mode</b>\n\n"+
			"Send /duel and I pose a tricky question for the rival bot.\n"+
			"Relay the question to it, then mention me with its answer "+
			"(not as a reply). I will judge it. Timeout is two minutes.\n\n%s\n\n"+
			"💡 <b>Example</b>\n\n<code>/info Qwen/Qwen2-72B-Instruct</code>",
		separator, separator, separator, m.commandList(), separator, separator,
	)
}

func (m *Module) commandList() string {
	lines := []string{"📋 <b>Commands</b>", ""}
	for _, command := range m.catalog.ListCommands() {
		usage := "/" + command.Name
		if command.Usage != "" {
			usage = command.Usage
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", usage, command.Description))
	}

	return strings.Join(lines, "\n")
}

func (m *Module) agiMessage() string {
	percent := 65 + m.randIntn(31)
	filled := percent / 5
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 20-filled)
	excuse := agiExcuses[m.randIntn(len(agiExcuses))]

	return fmt.Sprintf(
		"🤖 <b>Checking for AGI...</b>\n\n<code>%s</code> %d%%\n\n%s\n\n"+
			"❌ <b>No AGI detected.</b>\n\n💬 <i>%s</i>",
		bar, percent, separator, excuse,
	)
}

var _ hubwatch.Module = (*Module)(nil)
