// Package duel runs quiz duels against a rival bot: the bot poses a
// question, users relay it, and the rival's answer comes back for judgment.
package duel

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"hubwatch/internal/format"
	"hubwatch/pkg/hubwatch"
)

const (
	moduleName = "duel"

	defaultReminderDelay = time.Minute
	defaultExpiryDelay   = time.Minute
	defaultRivalName     = "GigaChat"

	// absurdChance is the probability a duel uses a one-off nonsense
	// question instead of the bank.
	absurdChance = 0.2
)

// Config carries duel settings.
type Config struct {
	// Profile selects the LLM provider for questions and verdicts.
	Profile string
	// Model overrides the provider default for verdicts and absurd questions.
	Model string
	// BankModel overrides the provider default for bank generation, where a
	// stronger model pays off.
	BankModel string
	// RivalName is the display name of the bot being quizzed.
	RivalName string
	// ReminderDelay is how long to wait before nudging; zero selects one
	// minute.
	ReminderDelay time.Duration
	// ExpiryDelay is how long after the nudge the duel is cancelled; zero
	// selects one minute.
	ExpiryDelay time.Duration
}

// Module is the quiz-duel module.
type Module struct {
	cfg      Config
	sessions *Sessions

	logger     *slog.Logger
	store      hubwatch.StateStore
	outbound   hubwatch.OutboundDispatcher
	scheduler  hubwatch.Scheduler
	supervisor hubwatch.Supervisor
	identity   *hubwatch.BotIdentity
	llm        hubwatch.LLMProvider

	// randFloat is swappable for deterministic tests.
	randFloat func() float64
}

// New creates the duel module.
func New(cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Profile) == "" {
		return nil, fmt.Errorf("duel config: missing llm profile")
	}
	if cfg.ReminderDelay < 0 || cfg.ExpiryDelay < 0 {
		return nil, fmt.Errorf("duel config: negative delay")
	}
	if cfg.ReminderDelay == 0 {
		cfg.ReminderDelay = defaultReminderDelay
	}
	if cfg.ExpiryDelay == 0 {
		cfg.ExpiryDelay = defaultExpiryDelay
	}
	if strings.TrimSpace(cfg.RivalName) == "" {
		cfg.RivalName = defaultRivalName
	}

	return &Module{
		cfg:       cfg,
		sessions:  NewSessions(),
		randFloat: rand.Float64,
	}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Sessions exposes the duel registry so other modules can stay silent while
// a duel runs.
func (m *Module) Sessions() *Sessions {
	return m.sessions
}

// Spec declares the /duel command and the evaluation message handler.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{
		Handlers: []hubwatch.ModuleHandler{
			{
				Name: "duel-start",
				Interest: hubwatch.InterestSet{
					Kinds:        []hubwatch.EventKind{hubwatch.EventKindCommandReceived},
					CommandNames: []string{"duel"},
				},
				Handler: m.handleDuelCommand,
			},
			{
				Name:     "duel-evaluate",
				Interest: hubwatch.InterestSet{Kinds: []hubwatch.EventKind{hubwatch.EventKindMessageCreated}},
				Handler:  m.handleMessage,
			},
		},
		Commands: []hubwatch.CommandSpec{
			{
				Name:        "duel",
				Description: "Start a quiz duel with the rival bot",
			},
		},
	}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.store, err = hubwatch.ResolveAs[hubwatch.StateStore](services, hubwatch.ServiceStateStore); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	if m.scheduler, err = hubwatch.ResolveAs[hubwatch.Scheduler](services, hubwatch.ServiceScheduler); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	if m.supervisor, err = hubwatch.ResolveAs[hubwatch.Supervisor](services, hubwatch.ServiceSupervisor); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	if m.identity, err = hubwatch.ResolveAs[*hubwatch.BotIdentity](services, hubwatch.ServiceBotIdentity); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	registry, err := hubwatch.ResolveAs[hubwatch.LLMProviderRegistry](services, hubwatch.ServiceLLMProviderRegistry)
	if err != nil {
		return fmt.Errorf("duel register: %w", err)
	}
	if m.llm, err = registry.Resolve(m.cfg.Profile); err != nil {
		return fmt.Errorf("duel register: %w", err)
	}

	return nil
}

// OnStart completes immediately.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown completes immediately; pending timers die with the scheduler.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleDuelCommand(ctx context.Context, event *hubwatch.Event) error {
	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("duel target: %w", err)
	}
	conversationID := event.Conversation.ID

	if !m.sessions.begin(conversationID) {
		_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
			Target: target,
			Text:   "⚔️ A duel is already in progress here! Finish it first.",
			Mode:   hubwatch.TextModeHTML,
		})
		return err
	}

	placeholder, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:           target,
		Text:             "⚔️ <i>Preparing a tricky question...</i>",
		Mode:             hubwatch.TextModeHTML,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		m.sessions.release(conversationID)
		return fmt.Errorf("duel placeholder: %w", err)
	}

	var question hubwatch.BankQuestion
	kind := kindSerious
	if m.randFloat() < absurdChance {
		question, err = m.generateAbsurdQuestion(ctx)
		kind = kindAbsurd
	} else {
		question, err = m.popQuestion(ctx)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "question generation failed", "error", err)
		m.sessions.release(conversationID)
		return m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
			Target:    target,
			MessageID: placeholder.ID,
			Text:      "⚔️ <i>Could not come up with a question. Try again later.</i>",
			Mode:      hubwatch.TextModeHTML,
		})
	}

	reminder := m.scheduler.Schedule(m.cfg.ReminderDelay, func(ctx context.Context) {
		m.remind(ctx, conversationID, target)
	})
	if !m.sessions.arm(conversationID, question.Question, question.Answer, kind, reminder) {
		reminder.Cancel()
		return nil
	}

	err = m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
		Target:    target,
		MessageID: placeholder.ID,
		Text: fmt.Sprintf("⚔️ <b>DUEL MODE</b>\n\n%s, a question for you:\n\n❓ %s",
			html.EscapeString(m.cfg.RivalName), html.EscapeString(question.Question)),
		Mode: hubwatch.TextModeHTML,
	})
	if err != nil {
		return fmt.Errorf("duel question delivery: %w", err)
	}
	m.logger.InfoContext(ctx, "duel started", "conversation", conversationID, "kind", kind)

	return nil
}

// remind nudges the conversation after the first silence window and arms the
// expiry timer.
func (m *Module) remind(ctx context.Context, conversationID string, target hubwatch.OutboundTarget) {
	if !m.sessions.Active(conversationID) {
		return
	}

	_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target: target,
		Text: fmt.Sprintf("⏳ <i>Still waiting for %s to answer... One more minute.</i>",
			html.EscapeString(m.cfg.RivalName)),
		Mode: hubwatch.TextModeHTML,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "reminder send failed", "conversation", conversationID, "error", err)
	}

	expiry := m.scheduler.Schedule(m.cfg.ExpiryDelay, func(ctx context.Context) {
		m.expire(ctx, conversationID, target)
	})
	if !m.sessions.setExpiry(conversationID, expiry) {
		expiry.Cancel()
	}
}

// expire cancels the duel after the full timeout.
func (m *Module) expire(ctx context.Context, conversationID string, target hubwatch.OutboundTarget) {
	sess, ok := m.sessions.takeArmed(conversationID)
	if !ok {
		return
	}
	sess.cancelTimers()

	_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target: target,
		Text: fmt.Sprintf("⌛ <b>Duel cancelled.</b> %s never answered. A win by silence.",
			html.EscapeString(m.cfg.RivalName)),
		Mode: hubwatch.TextModeHTML,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "timeout send failed", "conversation", conversationID, "error", err)
	}
	m.logger.InfoContext(ctx, "duel expired", "conversation", conversationID)
}

// handleMessage evaluates the rival's relayed answer during an active duel.
//
// Replies are ignored so users can talk to the rival bot freely; the
// evaluation trigger is a direct message to this bot with no reply, carrying
// the rival's answer as text.
func (m *Module) handleMessage(ctx context.Context, event *hubwatch.Event) error {
	if event.Message == nil || event.Actor.IsBot {
		return nil
	}
	if !m.sessions.Active(event.Conversation.ID) {
		return nil
	}
	if event.Message.ReplyToID != "" {
		return nil
	}

	text, addressed := m.addressedText(event)
	if !addressed || text == "" {
		return nil
	}

	sess, ok := m.sessions.takeArmed(event.Conversation.ID)
	if !ok {
		return nil
	}
	sess.cancelTimers()

	return m.evaluate(ctx, event, sess, text)
}

func (m *Module) evaluate(ctx context.Context, event *hubwatch.Event, sess *session, rivalAnswer string) error {
	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("duel evaluate target: %w", err)
	}

	placeholder, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:           target,
		Text:             "⚔️ <i>Checking the answer... this will not take long.</i>",
		Mode:             hubwatch.TextModeHTML,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("duel evaluate placeholder: %w", err)
	}

	verdict, err := m.judge(ctx, sess, rivalAnswer)
	text := "⚔️ <i>Could not judge the answer. Even referees get tired...</i>"
	if err != nil {
		m.logger.ErrorContext(ctx, "verdict generation failed", "error", err)
	} else if verdict != "" {
		text = "⚔️ <b>Duel verdict</b>\n\n" + format.SanitizeHTML(verdict)
	}

	err = m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
		Target:             target,
		MessageID:          placeholder.ID,
		Text:               text,
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("duel verdict delivery: %w", err)
	}
	m.logger.InfoContext(ctx, "duel evaluated", "conversation", event.Conversation.ID)

	return nil
}

func (m *Module) judge(ctx context.Context, sess *session, rivalAnswer string) (string, error) {
	var builder strings.Builder
	fmt.Fprintf(&builder, "You are judging a quiz duel against the bot %s.\n\n", m.cfg.RivalName)
	fmt.Fprintf(&builder, "Question: %s\n", sess.question)
	fmt.Fprintf(&builder, "Reference answer: %s\n", sess.answer)
	fmt.Fprintf(&builder, "%s answered: %s\n\n", m.cfg.RivalName, rivalAnswer)
	if sess.kind == kindAbsurd {
		builder.WriteString("The question is deliberately nonsensical. " +
			"The only correct reaction was to call out the absurdity; " +
			"a serious answer is an automatic fail.\n\n")
	}
	builder.WriteString("Give a short, biting verdict in 2-4 sentences: " +
		"say whether the answer is correct and grade it from 0 to 10.")

	verdict, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model: m.cfg.Model,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleUser, Content: builder.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate verdict: %w", err)
	}

	return strings.TrimSpace(verdict), nil
}

// addressedText mirrors the assistant trigger rules: private conversations
// are always addressed, groups need a mention.
func (m *Module) addressedText(event *hubwatch.Event) (string, bool) {
	text := strings.TrimSpace(event.Message.Text)
	if text == "" {
		return "", false
	}
	if event.Conversation.Type == hubwatch.ConversationTypePrivate {
		return text, true
	}

	username := m.identity.Username()
	if username == "" {
		return "", false
	}
	mention := "@" + strings.ToLower(username)
	if !strings.Contains(strings.ToLower(text), mention) {
		return "", false
	}

	lower := strings.ToLower(text)
	var builder strings.Builder
	for {
		index := strings.Index(lower, mention)
		if index < 0 {
			builder.WriteString(text)
			break
		}
		builder.WriteString(text[:index])
		text = text[index+len(mention):]
		lower = lower[index+len(mention):]
	}

	return strings.TrimSpace(builder.String()), true
}

var _ hubwatch.Module = (*Module)(nil)
