package duel

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"hubwatch/pkg/hubwatch"
)

// bankTargetSize is how many questions the durable bank is kept at.
const bankTargetSize = 10

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```$")
)

const bankPrompt = "Generate %d hard, tricky quiz questions about machine " +
	"learning, computer science, mathematics, and general knowledge. Each " +
	"question must have one short verifiable answer. Return ONLY a JSON array " +
	"without markdown fences: [{\"question\": \"...\", \"answer\": \"...\"}]"

const absurdPrompt = "Invent one absurd, surreal question. It must be complete " +
	"nonsense, designed to check whether a language model will answer gibberish " +
	"seriously. The correct reaction is to recognize the absurdity and say the " +
	"question is meaningless.\n\nReturn ONLY JSON without markdown fences: " +
	"{\"question\": \"the question text\", \"answer\": \"this is an absurd " +
	"question, the right reaction is to point out it is meaningless\"}"

// popQuestion takes the next serious question from the durable bank.
//
// An empty bank is filled synchronously before the pop. The pop itself runs
// inside a store update, so the question leaves the bank and the change hits
// disk in one step. A background top-up is queued afterwards.
func (m *Module) popQuestion(ctx context.Context) (hubwatch.BankQuestion, error) {
	empty := true
	m.store.View(func(doc *hubwatch.StateDocument) {
		empty = len(doc.QuestionBank) == 0
	})
	if empty {
		m.logger.InfoContext(ctx, "question bank empty, generating initial batch")
		questions, err := m.generateQuestions(ctx, bankTargetSize)
		if err != nil {
			return hubwatch.BankQuestion{}, fmt.Errorf("fill question bank: %w", err)
		}
		err = m.store.Update(func(doc *hubwatch.StateDocument) {
			doc.QuestionBank = append(doc.QuestionBank, questions...)
		})
		if err != nil {
			return hubwatch.BankQuestion{}, fmt.Errorf("persist question bank: %w", err)
		}
	}

	var popped *hubwatch.BankQuestion
	var remaining int
	err := m.store.Update(func(doc *hubwatch.StateDocument) {
		if len(doc.QuestionBank) == 0 {
			return
		}
		question := doc.QuestionBank[0]
		doc.QuestionBank = slices.Clone(doc.QuestionBank[1:])
		popped = &question
		remaining = len(doc.QuestionBank)
	})
	if err != nil {
		return hubwatch.BankQuestion{}, fmt.Errorf("pop bank question: %w", err)
	}
	if popped == nil {
		return hubwatch.BankQuestion{}, fmt.Errorf("question bank still empty after fill")
	}
	m.logger.InfoContext(ctx, "popped bank question", "remaining", remaining)

	m.supervisor.Go("duel-bank-top-up", m.topUpBank)

	return *popped, nil
}

// topUpBank generates one question when the bank runs below target.
func (m *Module) topUpBank(ctx context.Context) error {
	full := false
	m.store.View(func(doc *hubwatch.StateDocument) {
		full = len(doc.QuestionBank) >= bankTargetSize
	})
	if full {
		return nil
	}

	questions, err := m.generateQuestions(ctx, 1)
	if err != nil {
		return fmt.Errorf("top up question bank: %w", err)
	}

	var size int
	err = m.store.Update(func(doc *hubwatch.StateDocument) {
		doc.QuestionBank = append(doc.QuestionBank, questions...)
		size = len(doc.QuestionBank)
	})
	if err != nil {
		return fmt.Errorf("persist question bank: %w", err)
	}
	m.logger.InfoContext(ctx, "question bank topped up", "size", size)

	return nil
}

// generateQuestions asks the strong model for serious questions with
// reasoning enabled.
func (m *Module) generateQuestions(ctx context.Context, count int) ([]hubwatch.BankQuestion, error) {
	raw, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model:     m.cfg.BankModel,
		Reasoning: true,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleUser, Content: fmt.Sprintf(bankPrompt, count)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	questions, err := parseQuestionJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no usable questions in response")
	}

	return questions, nil
}

// generateAbsurdQuestion asks the default model for one nonsense question.
func (m *Module) generateAbsurdQuestion(ctx context.Context) (hubwatch.BankQuestion, error) {
	raw, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model: m.cfg.Model,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleUser, Content: absurdPrompt},
		},
	})
	if err != nil {
		return hubwatch.BankQuestion{}, fmt.Errorf("generate absurd question: %w", err)
	}

	questions, err := parseQuestionJSON(raw)
	if err != nil || len(questions) == 0 {
		return hubwatch.BankQuestion{}, fmt.Errorf("parse absurd question: unusable response")
	}

	return questions[0], nil
}

// parseQuestionJSON decodes a JSON array or single object of question/answer
// pairs, tolerating markdown fences around the payload.
func parseQuestionJSON(raw string) ([]hubwatch.BankQuestion, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = fenceOpenRe.ReplaceAllString(cleaned, "")
	cleaned = fenceCloseRe.ReplaceAllString(cleaned, "")

	var entries []hubwatch.BankQuestion
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		var single hubwatch.BankQuestion
		if err := json.Unmarshal([]byte(cleaned), &single); err != nil {
			return nil, fmt.Errorf("decode question payload: %w", err)
		}
		entries = []hubwatch.BankQuestion{single}
	}

	questions := entries[:0]
	for _, entry := range entries {
		if entry.Question == "" || entry.Answer == "" {
			continue
		}
		questions = append(questions, entry)
	}

	return questions, nil
}
