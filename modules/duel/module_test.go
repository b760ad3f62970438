package duel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"hubwatch/pkg/hubwatch"
)

type recordingOutbound struct {
	mu    sync.Mutex
	sends []hubwatch.SendMessageRequest
	edits []hubwatch.EditMessageRequest
}

func (o *recordingOutbound) SendMessage(_ context.Context, request hubwatch.SendMessageRequest) (*hubwatch.OutboundMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends = append(o.sends, request)
	return &hubwatch.OutboundMessage{ID: fmt.Sprintf("%d", 100+len(o.sends)), Target: request.Target}, nil
}

func (o *recordingOutbound) EditMessage(_ context.Context, request hubwatch.EditMessageRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edits = append(o.edits, request)
	return nil
}

func (o *recordingOutbound) allTexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var texts []string
	for _, send := range o.sends {
		texts = append(texts, send.Text)
	}
	for _, edit := range o.edits {
		texts = append(texts, edit.Text)
	}
	return texts
}

func (o *recordingOutbound) countContaining(fragment string) int {
	count := 0
	for _, text := range o.allTexts() {
		if strings.Contains(text, fragment) {
			count++
		}
	}
	return count
}

// manualScheduler hands out inert handles and records callbacks so tests can
// fire timers deterministically.
type manualScheduler struct {
	mu        sync.Mutex
	callbacks []func(ctx context.Context)
	handles   []*fakeTimer
}

func (s *manualScheduler) Schedule(_ time.Duration, fn func(ctx context.Context)) hubwatch.TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := &fakeTimer{}
	s.callbacks = append(s.callbacks, fn)
	s.handles = append(s.handles, handle)
	return handle
}

func (s *manualScheduler) fire(ctx context.Context, index int) {
	s.mu.Lock()
	fn := s.callbacks[index]
	s.mu.Unlock()
	fn(ctx)
}

func newDuelModule(t *testing.T, llm *stubLLM) (*Module, *recordingOutbound, *manualScheduler, *countingStore, *recordingSupervisor) {
	t.Helper()

	module, err := New(Config{Profile: "default", RivalName: "RivalBot"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	outbound := &recordingOutbound{}
	scheduler := &manualScheduler{}
	store := newCountingStore()
	supervisor := &recordingSupervisor{}
	identity := &hubwatch.BotIdentity{}
	identity.Set("999", "hubwatch_bot")

	module.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	module.store = store
	module.outbound = outbound
	module.scheduler = scheduler
	module.supervisor = supervisor
	module.identity = identity
	module.llm = llm
	module.randFloat = func() float64 { return 0.9 }

	return module, outbound, scheduler, store, supervisor
}

func duelCommandEvent() *hubwatch.Event {
	return &hubwatch.Event{
		ID:           "evt-1",
		Kind:         hubwatch.EventKindCommandReceived,
		Platform:     hubwatch.PlatformTelegram,
		Conversation: hubwatch.Conversation{ID: "chat-1", Type: hubwatch.ConversationTypeGroup},
		Actor:        hubwatch.Actor{ID: "7", Username: "alice"},
		Message:      &hubwatch.Message{ID: "41", Text: "/duel"},
		Command:      &hubwatch.CommandInvocation{Name: "duel", RawInput: "/duel"},
	}
}

func answerEvent(text string) *hubwatch.Event {
	return &hubwatch.Event{
		ID:           "evt-2",
		Kind:         hubwatch.EventKindMessageCreated,
		Platform:     hubwatch.PlatformTelegram,
		Conversation: hubwatch.Conversation{ID: "chat-1", Type: hubwatch.ConversationTypeGroup},
		Actor:        hubwatch.Actor{ID: "7", Username: "alice"},
		Message:      &hubwatch.Message{ID: "42", Text: text},
	}
}

func TestDuelCommandStartsSession(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, scheduler, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}

	if !module.sessions.Active("chat-1") {
		t.Fatal("session not active after /duel")
	}
	if len(outbound.sends) != 1 {
		t.Fatalf("sends = %d, want 1 placeholder", len(outbound.sends))
	}
	if len(outbound.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(outbound.edits))
	}
	edit := outbound.edits[0]
	if !strings.Contains(edit.Text, "RivalBot") || !strings.Contains(edit.Text, "q0") {
		t.Fatalf("question edit = %q, want rival name and question", edit.Text)
	}
	if len(scheduler.callbacks) != 1 {
		t.Fatalf("scheduled callbacks = %d, want 1 reminder", len(scheduler.callbacks))
	}
	// The bank question was consumed, not just read.
	if store.bankSize() != 2 {
		t.Fatalf("bank size = %d, want 2", store.bankSize())
	}
}

func TestDuelCommandRejectsSecondDuel(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, _, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("first handleDuelCommand() error = %v", err)
	}
	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("second handleDuelCommand() error = %v", err)
	}

	if outbound.countContaining("already in progress") != 1 {
		t.Fatalf("texts = %v, want one already-active notice", outbound.allTexts())
	}
	if store.bankSize() != 2 {
		t.Fatalf("bank size = %d, want 2 after a single consumed question", store.bankSize())
	}
}

func TestDuelCommandRollsBackOnGenerationFailure(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{err: fmt.Errorf("model offline")}
	module, outbound, _, _, _ := newDuelModule(t, llm)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}

	if module.sessions.Active("chat-1") {
		t.Fatal("session active after failed start")
	}
	if outbound.countContaining("Could not come up with a question") != 1 {
		t.Fatalf("texts = %v, want failure notice", outbound.allTexts())
	}
}

func TestDuelUsesAbsurdQuestionOnLowRoll(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: `{"question": "How loud is purple?", "answer": "the question is meaningless"}`}
	module, outbound, _, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)
	module.randFloat = func() float64 { return 0.05 }

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}

	if outbound.countContaining("How loud is purple?") != 1 {
		t.Fatalf("texts = %v, want absurd question", outbound.allTexts())
	}
	// Absurd questions never touch the bank.
	if store.bankSize() != 3 {
		t.Fatalf("bank size = %d, want 3", store.bankSize())
	}
}

func TestEvaluationOnMentionedAnswer(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "Correct. **9/10**."}
	module, outbound, scheduler, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}
	if err := module.handleMessage(context.Background(), answerEvent("@hubwatch_bot the answer is 42")); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	if module.sessions.Active("chat-1") {
		t.Fatal("session still active after evaluation")
	}
	if outbound.countContaining("verdict") != 1 {
		t.Fatalf("texts = %v, want one verdict", outbound.allTexts())
	}
	if outbound.countContaining("<b>9/10</b>") != 1 {
		t.Fatalf("texts = %v, want sanitized verdict body", outbound.allTexts())
	}
	if !scheduler.handles[0].isCancelled() {
		t.Fatal("reminder timer not cancelled by evaluation")
	}
}

func TestRepliesIgnoredDuringDuel(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, _, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}
	sendsAfterStart := len(outbound.sends)

	reply := answerEvent("@hubwatch_bot what do you think?")
	reply.Message.ReplyToID = "40"
	if err := module.handleMessage(context.Background(), reply); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	unaddressed := answerEvent("just chatting here")
	if err := module.handleMessage(context.Background(), unaddressed); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	if !module.sessions.Active("chat-1") {
		t.Fatal("session ended by a message that should be ignored")
	}
	if len(outbound.sends) != sendsAfterStart {
		t.Fatalf("sends = %d, want %d", len(outbound.sends), sendsAfterStart)
	}
}

func TestMessagesOutsideDuelIgnored(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, _, _, _ := newDuelModule(t, llm)

	if err := module.handleMessage(context.Background(), answerEvent("@hubwatch_bot hello")); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	if len(outbound.sends) != 0 {
		t.Fatalf("sends = %d, want 0", len(outbound.sends))
	}
}

func TestReminderThenExpiryCancelsDuel(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, scheduler, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}

	scheduler.fire(context.Background(), 0)
	if outbound.countContaining("Still waiting") != 1 {
		t.Fatalf("texts = %v, want reminder", outbound.allTexts())
	}
	if len(scheduler.callbacks) != 2 {
		t.Fatalf("scheduled callbacks = %d, want reminder and expiry", len(scheduler.callbacks))
	}

	scheduler.fire(context.Background(), 1)
	if outbound.countContaining("Duel cancelled") != 1 {
		t.Fatalf("texts = %v, want cancellation", outbound.allTexts())
	}
	if module.sessions.Active("chat-1") {
		t.Fatal("session still active after expiry")
	}
}

func TestReminderSkippedAfterEvaluation(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, scheduler, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}
	if err := module.handleMessage(context.Background(), answerEvent("@hubwatch_bot 42")); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	scheduler.fire(context.Background(), 0)
	if outbound.countContaining("Still waiting") != 0 {
		t.Fatalf("texts = %v, want no reminder after evaluation", outbound.allTexts())
	}
}

func TestConcurrentEvaluationAndExpiry(t *testing.T) {
	t.Parallel()

	llm := &stubLLM{text: "verdict text"}
	module, outbound, scheduler, store, _ := newDuelModule(t, llm)
	seedBank(store, 3)

	if err := module.handleDuelCommand(context.Background(), duelCommandEvent()); err != nil {
		t.Fatalf("handleDuelCommand() error = %v", err)
	}
	scheduler.fire(context.Background(), 0)

	target, err := hubwatch.OutboundTargetFromEvent(duelCommandEvent())
	if err != nil {
		t.Fatalf("OutboundTargetFromEvent() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		module.expire(context.Background(), "chat-1", target)
	}()
	go func() {
		defer wg.Done()
		if err := module.handleMessage(context.Background(), answerEvent("@hubwatch_bot 42")); err != nil {
			t.Errorf("handleMessage() error = %v", err)
		}
	}()
	wg.Wait()

	terminal := outbound.countContaining("Duel cancelled") + outbound.countContaining("verdict")
	if terminal != 1 {
		t.Fatalf("terminal messages = %d (%v), want exactly 1", terminal, outbound.allTexts())
	}
	if module.sessions.Active("chat-1") {
		t.Fatal("session still active after the race resolved")
	}
}
