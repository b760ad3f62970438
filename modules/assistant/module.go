// Package assistant answers free-text messages using hub metadata, linked
// pages, and web-search context.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"hubwatch/internal/format"
	"hubwatch/pkg/hub"
	"hubwatch/pkg/hubwatch"
	"hubwatch/pkg/search"
)

const moduleName = "assistant"

// thinkingPhrases rotate as the placeholder while the answer is computed.
var thinkingPhrases = []string{
	"🤔 <i>Thinking...</i>",
	"🔍 <i>Digging through model cards...</i>",
	"🧠 <i>Consulting the weights...</i>",
	"📚 <i>Reading the docs so you don't have to...</i>",
}

const systemPrompt = "You are a sharp, slightly sarcastic assistant in a chat " +
	"about machine learning models. Answer concisely and factually, lean on the " +
	"provided context when it is relevant, and admit when you do not know. " +
	"Prefer plain prose with light Markdown."

// HubClient is the slice of the model-hub API the assistant depends on.
type HubClient interface {
	GetModelInfo(ctx context.Context, modelID string) (*hub.ModelInfo, error)
	GetReadmeWithImages(ctx context.Context, modelID string, maxImages int) (string, []string, error)
	SearchModels(ctx context.Context, searchQuery string, limit int) ([]hub.ModelInfo, error)
}

// WebReader fetches readable text for user-supplied URLs.
type WebReader interface {
	FetchPageText(ctx context.Context, pageURL string) (string, error)
	FetchArxivPaper(ctx context.Context, pageURL string) (string, error)
}

// WebSearcher runs general web searches when one is configured.
type WebSearcher interface {
	Available() bool
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// DuelGate reports whether a quiz duel is active in a conversation. While a
// duel runs the assistant stays silent there so users can relay messages to
// the rival bot.
type DuelGate interface {
	Active(conversationID string) bool
}

// Config carries assistant settings.
type Config struct {
	// Profile selects the LLM provider used for answers.
	Profile string
	// Model overrides the provider's default model.
	Model string
}

// Module is the free-text assistant module.
type Module struct {
	cfg      Config
	hub      HubClient
	reader   WebReader
	searcher WebSearcher
	duels    DuelGate

	logger   *slog.Logger
	outbound hubwatch.OutboundDispatcher
	identity *hubwatch.BotIdentity
	llm      hubwatch.LLMProvider
}

// New creates the assistant module. The duel gate may be nil when no duel
// module is installed.
func New(cfg Config, client HubClient, reader WebReader, searcher WebSearcher, duels DuelGate) (*Module, error) {
	if strings.TrimSpace(cfg.Profile) == "" {
		return nil, fmt.Errorf("assistant config: missing llm profile")
	}
	if client == nil {
		return nil, fmt.Errorf("assistant: nil hub client")
	}
	if reader == nil {
		return nil, fmt.Errorf("assistant: nil web reader")
	}
	if searcher == nil {
		return nil, fmt.Errorf("assistant: nil web searcher")
	}

	return &Module{cfg: cfg, hub: client, reader: reader, searcher: searcher, duels: duels}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares the free-text message handler.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{
		Handlers: []hubwatch.ModuleHandler{
			{
				Name:     "assistant-message",
				Interest: hubwatch.InterestSet{Kinds: []hubwatch.EventKind{hubwatch.EventKindMessageCreated}},
				Handler:  m.handleMessage,
			},
		},
	}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("assistant register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("assistant register: %w", err)
	}
	if m.identity, err = hubwatch.ResolveAs[*hubwatch.BotIdentity](services, hubwatch.ServiceBotIdentity); err != nil {
		return fmt.Errorf("assistant register: %w", err)
	}
	registry, err := hubwatch.ResolveAs[hubwatch.LLMProviderRegistry](services, hubwatch.ServiceLLMProviderRegistry)
	if err != nil {
		return fmt.Errorf("assistant register: %w", err)
	}
	if m.llm, err = registry.Resolve(m.cfg.Profile); err != nil {
		return fmt.Errorf("assistant register: %w", err)
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

func (m *Module) handleMessage(ctx context.Context, event *hubwatch.Event) error {
	if event.Message == nil || event.Actor.IsBot {
		return nil
	}

	userText, triggered := m.triggerText(event)
	if !triggered {
		return nil
	}
	if m.duels != nil && m.duels.Active(event.Conversation.ID) {
		return nil
	}
	if userText == "" {
		return nil
	}

	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("assistant target: %w", err)
	}

	placeholder, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:           target,
		Text:             thinkingPhrases[rand.Intn(len(thinkingPhrases))],
		Mode:             hubwatch.TextModeHTML,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("assistant placeholder: %w", err)
	}

	analysis := Analyze(userText)
	m.logger.InfoContext(ctx, "handling message",
		"intent", analysis.Intent,
		"models", analysis.Models,
		"queries", analysis.Queries)

	gathered := m.gatherContext(ctx, userText, analysis)

	response, err := m.generate(ctx, userText, event.Message.ReplyToText, gathered)
	if err != nil {
		m.logger.ErrorContext(ctx, "answer generation failed", "error", err)
	}

	text := "🤖 <i>Something broke on my side. Even I fail sometimes. Try again.</i>"
	if response != "" {
		text = format.SanitizeHTML(response)
	}
	err = m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
		Target:             target,
		MessageID:          placeholder.ID,
		Text:               text,
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("assistant deliver answer: %w", err)
	}

	return nil
}

// triggerText decides whether the assistant should answer and returns the
// user text with the bot mention removed.
//
// Private conversations always trigger. Group conversations trigger only on
// a mention of the bot or a reply to one of its messages.
func (m *Module) triggerText(event *hubwatch.Event) (string, bool) {
	text := event.Message.Text
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	mentionToken := ""
	if username := m.identity.Username(); username != "" {
		mentionToken = "@" + username
	}
	mentioned := mentionToken != "" && strings.Contains(strings.ToLower(text), strings.ToLower(mentionToken))
	replyToUs := event.Message.ReplyToActorID != "" && event.Message.ReplyToActorID == m.identity.ID()

	if event.Conversation.Type != hubwatch.ConversationTypePrivate && !mentioned && !replyToUs {
		return "", false
	}

	if mentionToken != "" {
		text = replaceFold(text, mentionToken, "")
	}

	return strings.TrimSpace(text), true
}

// replaceFold removes every case-insensitive occurrence of token from text.
func replaceFold(text, token, replacement string) string {
	lower := strings.ToLower(text)
	lowerToken := strings.ToLower(token)
	var builder strings.Builder
	for {
		index := strings.Index(lower, lowerToken)
		if index < 0 {
			builder.WriteString(text)
			break
		}
		builder.WriteString(text[:index])
		builder.WriteString(replacement)
		text = text[index+len(token):]
		lower = lower[index+len(lowerToken):]
	}

	return builder.String()
}

func (m *Module) generate(ctx context.Context, userText, replyContext string, gathered gatheredContext) (string, error) {
	var builder strings.Builder
	if gathered.HubContext != "" {
		builder.WriteString("Context from the model hub:\n")
		builder.WriteString(gathered.HubContext)
		builder.WriteString("\n\n")
	}
	if gathered.URLContext != "" {
		builder.WriteString("Content of pages the user linked:\n")
		builder.WriteString(gathered.URLContext)
		builder.WriteString("\n\n")
	}
	if gathered.WebContext != "" {
		builder.WriteString(gathered.WebContext)
		builder.WriteString("\n\n")
	}
	if replyContext != "" {
		builder.WriteString("The user is replying to this message:\n")
		builder.WriteString(replyContext)
		builder.WriteString("\n\n")
	}
	builder.WriteString("User message:\n")
	builder.WriteString(userText)

	response, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model: m.cfg.Model,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleSystem, Content: systemPrompt},
			{Role: hubwatch.LLMMessageRoleUser, Content: builder.String(), ImageURLs: gathered.ImageURLs},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	return strings.TrimSpace(response), nil
}

var _ hubwatch.Module = (*Module)(nil)
