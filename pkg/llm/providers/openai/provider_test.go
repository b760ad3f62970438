package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"hubwatch/pkg/hubwatch"
)

func ptrInt(value int) *int { return &value }

type completionsClientStub struct {
	lastParams openai.ChatCompletionNewParams
	completion *openai.ChatCompletion
	err        error
}

func (s *completionsClientStub) New(
	_ context.Context,
	body openai.ChatCompletionNewParams,
	_ ...option.RequestOption,
) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.completion, s.err
}

func completionWithText(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
	}
}

func TestNewOpenAIProviderConfigValidation(t *testing.T) {
	t.Parallel()

	retries := 1
	tests := []struct {
		name             string
		cfg              ProviderConfig
		wantErrSubstring string
	}{
		{
			name: "valid config",
			cfg: ProviderConfig{
				APIKey:     "sk-test",
				BaseURL:    "https://openrouter.ai/api/v1",
				MaxRetries: &retries,
			},
		},
		{
			name:             "missing api key",
			cfg:              ProviderConfig{APIKey: "   "},
			wantErrSubstring: "missing api_key",
		},
		{
			name:             "invalid base url",
			cfg:              ProviderConfig{APIKey: "sk-test", BaseURL: "not a url"},
			wantErrSubstring: "parse base_url",
		},
		{
			name:             "negative retries",
			cfg:              ProviderConfig{APIKey: "sk-test", MaxRetries: ptrInt(-1)},
			wantErrSubstring: "max_retries must be >= 0",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			provider, err := New(testCase.cfg)
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if provider == nil {
				t.Fatal("expected provider instance")
			}
		})
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	t.Parallel()

	stub := &completionsClientStub{completion: completionWithText("hello from the model")}
	provider := &Provider{completions: stub}

	reply, err := provider.Generate(context.Background(), hubwatch.LLMGenerateRequest{
		Model: "gpt-test",
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleSystem, Content: "be brief"},
			{Role: hubwatch.LLMMessageRoleUser, Content: "hi"},
		},
		Temperature:     0.6,
		MaxOutputTokens: 256,
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if reply != "hello from the model" {
		t.Fatalf("reply = %q", reply)
	}
	if got := string(stub.lastParams.Model); got != "gpt-test" {
		t.Fatalf("model = %q, want gpt-test", got)
	}
	if len(stub.lastParams.Messages) != 2 {
		t.Fatalf("mapped %d messages, want 2", len(stub.lastParams.Messages))
	}
}

func TestOpenAIProviderGenerateMapsImages(t *testing.T) {
	t.Parallel()

	stub := &completionsClientStub{completion: completionWithText("ok")}
	provider := &Provider{completions: stub}

	_, err := provider.Generate(context.Background(), hubwatch.LLMGenerateRequest{
		Model: "gpt-test",
		Messages: []hubwatch.LLMMessage{
			{
				Role:      hubwatch.LLMMessageRoleUser,
				Content:   "describe the benchmark chart",
				ImageURLs: []string{"https://example.com/chart.png"},
			},
		},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	user := stub.lastParams.Messages[0].OfUser
	if user == nil {
		t.Fatal("mapped message is not a user message")
	}
	parts := user.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("mapped %d content parts, want 2", len(parts))
	}
	if parts[1].OfImageURL == nil || parts[1].OfImageURL.ImageURL.URL != "https://example.com/chart.png" {
		t.Fatal("image part missing or wrong URL")
	}
}

func TestOpenAIProviderGenerateValidation(t *testing.T) {
	t.Parallel()

	provider := &Provider{completions: &completionsClientStub{completion: completionWithText("x")}}

	if _, err := provider.Generate(context.Background(), hubwatch.LLMGenerateRequest{}); !errors.Is(err, hubwatch.ErrInvalidLLMRequest) {
		t.Fatalf("empty request error = %v, want %v", err, hubwatch.ErrInvalidLLMRequest)
	}
}

func TestOpenAIProviderGeneratePropagatesAPIError(t *testing.T) {
	t.Parallel()

	provider := &Provider{completions: &completionsClientStub{err: errors.New("upstream down")}}

	_, err := provider.Generate(context.Background(), hubwatch.LLMGenerateRequest{
		Model:    "gpt-test",
		Messages: []hubwatch.LLMMessage{{Role: hubwatch.LLMMessageRoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("error = %v, want wrapped upstream error", err)
	}
}
