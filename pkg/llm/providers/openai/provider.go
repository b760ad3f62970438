// Package openai implements the hubwatch LLM provider contract on the OpenAI
// Chat Completions API. With a custom base URL the same provider serves
// OpenAI-compatible gateways such as OpenRouter.
package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"hubwatch/pkg/hubwatch"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint, e.g. for OpenRouter.
	BaseURL string
	// MaxRetries optionally overrides the SDK retry count.
	//
	// Nil keeps the SDK default behavior.
	MaxRetries *int
}

// Provider is a hubwatch LLM provider backed by OpenAI Chat Completions.
type Provider struct {
	completions chatCompletionsClient
}

type chatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type completionServiceAdapter struct {
	service openai.ChatCompletionService
}

func (a completionServiceAdapter) New(
	ctx context.Context,
	body openai.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*openai.ChatCompletion, error) {
	return a.service.New(ctx, body, opts...)
}

// New builds one OpenAI Chat Completions provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	options := make([]option.RequestOption, 0, 3)
	options = append(options, option.WithAPIKey(normalized.APIKey))
	if normalized.BaseURL != "" {
		options = append(options, option.WithBaseURL(normalized.BaseURL))
	}
	if normalized.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*normalized.MaxRetries))
	}

	client := openai.NewClient(options...)

	return &Provider{
		completions: completionServiceAdapter{service: client.Chat.Completions},
	}, nil
}

// Generate performs one non-streaming chat completion and returns the text of
// the first choice.
func (p *Provider) Generate(ctx context.Context, req hubwatch.LLMGenerateRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("openai generate: nil provider")
	}
	if ctx == nil {
		return "", fmt.Errorf("openai generate: nil context")
	}
	if p.completions == nil {
		return "", fmt.Errorf("openai generate: completions client is nil")
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("openai generate validate request: %w", err)
	}

	params, err := mapGenerateRequest(req)
	if err != nil {
		return "", fmt.Errorf("openai generate map request: %w", err)
	}

	completion, err := p.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai generate: empty completion")
	}

	return completion.Choices[0].Message.Content, nil
}

func mapGenerateRequest(req hubwatch.LLMGenerateRequest) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for index, message := range req.Messages {
		mapped, err := mapMessage(message)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("messages[%d]: %w", index, err)
		}
		messages = append(messages, mapped)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(strings.TrimSpace(req.Model)),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Reasoning {
		params.ReasoningEffort = shared.ReasoningEffortMedium
	}

	return params, nil
}

func mapMessage(message hubwatch.LLMMessage) (openai.ChatCompletionMessageParamUnion, error) {
	switch message.Role {
	case hubwatch.LLMMessageRoleSystem:
		return openai.SystemMessage(message.Content), nil
	case hubwatch.LLMMessageRoleAssistant:
		return openai.AssistantMessage(message.Content), nil
	case hubwatch.LLMMessageRoleUser:
		if len(message.ImageURLs) == 0 {
			return openai.UserMessage(message.Content), nil
		}
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(message.ImageURLs)+1)
		parts = append(parts, openai.TextContentPart(message.Content))
		for _, imageURL := range message.ImageURLs {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: imageURL,
			}))
		}
		return openai.UserMessage(parts), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", message.Role)
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)

	if cfg.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, fmt.Errorf("max_retries must be >= 0")
	}

	return cfg, nil
}

var _ hubwatch.LLMProvider = (*Provider)(nil)
