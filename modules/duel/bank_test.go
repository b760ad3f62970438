package duel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"hubwatch/pkg/hubwatch"
)

type countingStore struct {
	mu      sync.Mutex
	doc     *hubwatch.StateDocument
	updates int
}

func newCountingStore() *countingStore {
	return &countingStore{doc: hubwatch.NewStateDocument()}
}

func (s *countingStore) Update(fn func(doc *hubwatch.StateDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
	s.updates++
	return nil
}

func (s *countingStore) View(fn func(doc *hubwatch.StateDocument)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

func (s *countingStore) bankSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.QuestionBank)
}

type stubLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *stubLLM) Generate(context.Context, hubwatch.LLMGenerateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

// recordingSupervisor collects background tasks so tests can run them
// synchronously.
type recordingSupervisor struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context) error
}

func (s *recordingSupervisor) Go(_ string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, fn)
}

func (s *recordingSupervisor) runAll(ctx context.Context, t *testing.T) {
	t.Helper()
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, task := range tasks {
		if err := task(ctx); err != nil {
			t.Fatalf("background task failed: %v", err)
		}
	}
}

func newBankModule(store *countingStore, llm *stubLLM, supervisor *recordingSupervisor) *Module {
	return &Module{
		cfg:        Config{Profile: "default"},
		sessions:   NewSessions(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:      store,
		supervisor: supervisor,
		llm:        llm,
	}
}

func seedBank(store *countingStore, count int) {
	for index := 0; index < count; index++ {
		store.doc.QuestionBank = append(store.doc.QuestionBank, hubwatch.BankQuestion{
			Question: fmt.Sprintf("q%d", index),
			Answer:   fmt.Sprintf("a%d", index),
		})
	}
}

func TestParseQuestionJSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `[{"question": "q1", "answer": "a1"}, {"question": "q2", "answer": "a2"}]`,
			want: 2,
		},
		{
			name: "fenced array",
			raw:  "```json\n[{\"question\": \"q1\", \"answer\": \"a1\"}]\n```",
			want: 1,
		},
		{
			name: "single object",
			raw:  `{"question": "q1", "answer": "a1"}`,
			want: 1,
		},
		{
			name: "incomplete entries dropped",
			raw:  `[{"question": "q1", "answer": "a1"}, {"question": "", "answer": "a2"}, {"question": "q3"}]`,
			want: 1,
		},
		{
			name:    "garbage",
			raw:     "I refuse to answer in JSON.",
			wantErr: true,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			questions, err := parseQuestionJSON(testCase.raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("parseQuestionJSON() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseQuestionJSON() error = %v", err)
			}
			if len(questions) != testCase.want {
				t.Fatalf("len(questions) = %d, want %d", len(questions), testCase.want)
			}
		})
	}
}

func TestPopQuestionTakesHeadAndPersists(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	seedBank(store, 3)
	llm := &stubLLM{text: `[{"question": "fresh", "answer": "minted"}]`}
	supervisor := &recordingSupervisor{}
	module := newBankModule(store, llm, supervisor)

	question, err := module.popQuestion(context.Background())
	if err != nil {
		t.Fatalf("popQuestion() error = %v", err)
	}
	if question.Question != "q0" {
		t.Fatalf("question = %q, want q0", question.Question)
	}
	if store.updates != 1 {
		t.Fatalf("store updates = %d, want 1", store.updates)
	}
	if store.bankSize() != 2 {
		t.Fatalf("bank size = %d, want 2", store.bankSize())
	}

	// The queued top-up refills toward the target.
	supervisor.runAll(context.Background(), t)
	if store.bankSize() != 3 {
		t.Fatalf("bank size after top-up = %d, want 3", store.bankSize())
	}
}

func TestPopQuestionFillsEmptyBankSynchronously(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	llm := &stubLLM{text: `[{"question": "q1", "answer": "a1"}, {"question": "q2", "answer": "a2"}]`}
	module := newBankModule(store, llm, &recordingSupervisor{})

	question, err := module.popQuestion(context.Background())
	if err != nil {
		t.Fatalf("popQuestion() error = %v", err)
	}
	if question.Question != "q1" {
		t.Fatalf("question = %q, want q1", question.Question)
	}
	// One update to persist the batch, one for the pop.
	if store.updates != 2 {
		t.Fatalf("store updates = %d, want 2", store.updates)
	}
	if store.bankSize() != 1 {
		t.Fatalf("bank size = %d, want 1", store.bankSize())
	}
}

func TestPopQuestionPropagatesGenerationFailure(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	llm := &stubLLM{err: errors.New("model offline")}
	module := newBankModule(store, llm, &recordingSupervisor{})

	if _, err := module.popQuestion(context.Background()); err == nil {
		t.Fatal("popQuestion() error = nil, want error")
	}
	if store.updates != 0 {
		t.Fatalf("store updates = %d, want 0", store.updates)
	}
}

func TestTopUpBankSkipsWhenFull(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	seedBank(store, bankTargetSize)
	llm := &stubLLM{text: `[{"question": "extra", "answer": "extra"}]`}
	module := newBankModule(store, llm, &recordingSupervisor{})

	if err := module.topUpBank(context.Background()); err != nil {
		t.Fatalf("topUpBank() error = %v", err)
	}
	if llm.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", llm.calls)
	}
	if store.bankSize() != bankTargetSize {
		t.Fatalf("bank size = %d, want %d", store.bankSize(), bankTargetSize)
	}
}
