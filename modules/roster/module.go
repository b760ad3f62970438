// Package roster tracks chat members and serves the social commands built on
// that roster: /hero picks a member to celebrate, /stats shows live publisher
// counts.
package roster

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math/rand"
	"slices"
	"strings"

	"hubwatch/internal/format"
	"hubwatch/pkg/hubwatch"
)

const moduleName = "roster"

const heroPrompt = "Write a short, warm motivational message (2-4 sentences) " +
	"for a member of a machine learning chat group. Be encouraging and a " +
	"little playful. Do not address them by name, the mention is added " +
	"separately. Do not use markdown headings."

// HubCounter counts a publisher's models on the hub.
type HubCounter interface {
	CountModels(ctx context.Context, publisher string) (int, error)
}

// Config carries roster settings.
type Config struct {
	// Profile selects the LLM provider for hero messages.
	Profile string
	// Model overrides the provider default.
	Model string
	// Publishers is the monitored publisher list shown by /stats.
	Publishers []string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("roster config: missing llm profile")
	}

	return nil
}

// Module is the chat roster module.
type Module struct {
	cfg Config
	hub HubCounter

	logger   *slog.Logger
	store    hubwatch.StateStore
	outbound hubwatch.OutboundDispatcher
	identity *hubwatch.BotIdentity
	llm      hubwatch.LLMProvider

	// randIntn is swappable for deterministic tests.
	randIntn func(n int) int
}

// New creates the roster module.
func New(cfg Config, hub HubCounter) (*Module, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if hub == nil {
		return nil, fmt.Errorf("roster: nil hub client")
	}

	return &Module{cfg: cfg, hub: hub, randIntn: rand.Intn}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares the tracking observer and the /hero and /stats commands.
func (m *Module) Spec() hubwatch.ModuleSpec {
	return hubwatch.ModuleSpec{
		Handlers: []hubwatch.ModuleHandler{
			{
				Name:     "roster-track",
				Interest: hubwatch.InterestSet{Kinds: []hubwatch.EventKind{hubwatch.EventKindMessageCreated}},
				Handler:  m.trackUser,
			},
			{
				Name: "roster-hero",
				Interest: hubwatch.InterestSet{
					Kinds:        []hubwatch.EventKind{hubwatch.EventKindCommandReceived},
					CommandNames: []string{"hero"},
				},
				Handler: m.handleHero,
			},
			{
				Name: "roster-stats",
				Interest: hubwatch.InterestSet{
					Kinds:        []hubwatch.EventKind{hubwatch.EventKindCommandReceived},
					CommandNames: []string{"stats"},
				},
				Handler: m.handleStats,
			},
		},
		Commands: []hubwatch.CommandSpec{
			{Name: "hero", Description: "Celebrate a random chat member"},
			{Name: "stats", Description: "Live model counts per monitored publisher"},
		},
	}
}

// OnRegister resolves runtime services.
func (m *Module) OnRegister(_ context.Context, runtime hubwatch.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := hubwatch.ResolveAs[*slog.Logger](services, hubwatch.ServiceLogger)
	if err != nil {
		return fmt.Errorf("roster register: %w", err)
	}
	m.logger = logger.With("component", moduleName)

	if m.store, err = hubwatch.ResolveAs[hubwatch.StateStore](services, hubwatch.ServiceStateStore); err != nil {
		return fmt.Errorf("roster register: %w", err)
	}
	if m.outbound, err = hubwatch.ResolveAs[hubwatch.OutboundDispatcher](services, hubwatch.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("roster register: %w", err)
	}
	if m.identity, err = hubwatch.ResolveAs[*hubwatch.BotIdentity](services, hubwatch.ServiceBotIdentity); err != nil {
		return fmt.Errorf("roster register: %w", err)
	}
	registry, err := hubwatch.ResolveAs[hubwatch.LLMProviderRegistry](services, hubwatch.ServiceLLMProviderRegistry)
	if err != nil {
		return fmt.Errorf("roster register: %w", err)
	}
	if m.llm, err = registry.Resolve(m.cfg.Profile); err != nil {
		return fmt.Errorf("roster register: %w", err)
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

// trackUser records the sender's name snapshot. State is written only when
// the user is new or the name changed, so chatter does not churn the disk.
func (m *Module) trackUser(ctx context.Context, event *hubwatch.Event) error {
	if event.Message == nil || event.Actor.IsBot || event.Actor.ID == "" {
		return nil
	}

	snapshot := hubwatch.ChatUser{
		FirstName: event.Actor.DisplayName,
		Username:  event.Actor.Username,
	}
	if snapshot.FirstName == "" {
		snapshot.FirstName = "Anonymous"
	}

	changed := false
	m.store.View(func(doc *hubwatch.StateDocument) {
		known, exists := doc.ChatUsers[event.Conversation.ID][event.Actor.ID]
		changed = !exists || known != snapshot
	})
	if !changed {
		return nil
	}

	err := m.store.Update(func(doc *hubwatch.StateDocument) {
		users, exists := doc.ChatUsers[event.Conversation.ID]
		if !exists {
			users = make(map[string]hubwatch.ChatUser)
			doc.ChatUsers[event.Conversation.ID] = users
		}
		users[event.Actor.ID] = snapshot
	})
	if err != nil {
		return fmt.Errorf("track user: %w", err)
	}
	m.logger.DebugContext(ctx, "tracked chat user",
		"conversation", event.Conversation.ID, "user", event.Actor.ID)

	return nil
}

func (m *Module) handleHero(ctx context.Context, event *hubwatch.Event) error {
	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("hero target: %w", err)
	}

	mention, found := m.pickHero(event)
	if !found {
		_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
			Target: target,
			Text: "🦸 I do not know anyone in this chat yet! " +
				"Let people talk for a while and I will find a hero. 💬",
			Mode: hubwatch.TextModeHTML,
		})
		return err
	}

	placeholder, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:           target,
		Text:             "🦸 <i>Looking for a hero and picking the words...</i>",
		Mode:             hubwatch.TextModeHTML,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("hero placeholder: %w", err)
	}

	body, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model: m.cfg.Model,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleUser, Content: heroPrompt},
		},
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "hero message generation failed", "error", err)
		body = "You are doing great. Keep going!"
	} else {
		body = format.SanitizeHTML(strings.TrimSpace(body))
	}

	err = m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
		Target:    target,
		MessageID: placeholder.ID,
		Text:      format.HeroMessage(mention, body),
		Mode:      hubwatch.TextModeHTML,
	})
	if err != nil {
		return fmt.Errorf("hero delivery: %w", err)
	}

	return nil
}

// pickHero selects the hero mention. Private chats celebrate the sender;
// groups pick a random tracked member other than the sender and the bot.
func (m *Module) pickHero(event *hubwatch.Event) (string, bool) {
	if event.Conversation.Type == hubwatch.ConversationTypePrivate {
		return userMention(event.Actor.ID, event.Actor.DisplayName), true
	}

	var candidateIDs []string
	candidates := make(map[string]hubwatch.ChatUser)
	m.store.View(func(doc *hubwatch.StateDocument) {
		for userID, user := range doc.ChatUsers[event.Conversation.ID] {
			if userID == event.Actor.ID || userID == m.identity.ID() {
				continue
			}
			candidateIDs = append(candidateIDs, userID)
			candidates[userID] = user
		}
	})
	if len(candidateIDs) == 0 {
		return "", false
	}

	// Map iteration order is random but not uniformly so; sort then roll.
	slices.Sort(candidateIDs)
	heroID := candidateIDs[m.randIntn(len(candidateIDs))]

	return userMention(heroID, candidates[heroID].FirstName), true
}

func userMention(userID, name string) string {
	if name == "" {
		name = "Anonymous"
	}

	return fmt.Sprintf("<a href=\"tg://user?id=%s\">%s</a>", userID, html.EscapeString(name))
}

func (m *Module) handleStats(ctx context.Context, event *hubwatch.Event) error {
	target, err := hubwatch.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("stats target: %w", err)
	}

	if len(m.cfg.Publishers) == 0 {
		_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
			Target: target,
			Text:   "📊 Nothing to count yet.\n\n<i>No monitored publishers.</i>",
			Mode:   hubwatch.TextModeHTML,
		})
		return err
	}

	placeholder, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:           target,
		Text:             "📊 <i>Loading live statistics from the hub...</i>",
		Mode:             hubwatch.TextModeHTML,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("stats placeholder: %w", err)
	}

	tasks := make([]func(context.Context) (int, error), len(m.cfg.Publishers))
	for index, publisher := range m.cfg.Publishers {
		publisher := publisher
		tasks[index] = func(ctx context.Context) (int, error) {
			return m.hub.CountModels(ctx, publisher)
		}
	}
	results := hubwatch.GatherTasks(ctx, tasks)

	counts := make(map[string]int, len(m.cfg.Publishers))
	for index, result := range results {
		publisher := m.cfg.Publishers[index]
		if !result.Ok() {
			m.logger.WarnContext(ctx, "model count failed",
				"publisher", publisher, "error", result.Err)
			counts[publisher] = -1
			continue
		}
		counts[publisher] = result.Value
	}

	err = m.outbound.EditMessage(ctx, hubwatch.EditMessageRequest{
		Target:             target,
		MessageID:          placeholder.ID,
		Text:               format.Stats(counts),
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("stats delivery: %w", err)
	}

	return nil
}

var _ hubwatch.Module = (*Module)(nil)
