// Package gemini implements the hubwatch LLM provider contract on the Google
// Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"hubwatch/pkg/hubwatch"
)

const defaultAPIVersion = "v1beta"

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion optionally overrides the Gemini API version.
	//
	// Zero defaults to v1beta.
	APIVersion string
}

// Provider is a hubwatch LLM provider backed by the Gemini generateContent API.
type Provider struct {
	models geminiModelsClient
}

type geminiModelsClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// New builds one Gemini API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  normalized.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    normalized.BaseURL,
			APIVersion: normalized.APIVersion,
		},
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{models: client.Models}, nil
}

// Generate performs one non-streaming generateContent request and returns the
// concatenated response text.
func (p *Provider) Generate(ctx context.Context, req hubwatch.LLMGenerateRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("gemini generate: nil provider")
	}
	if ctx == nil {
		return "", fmt.Errorf("gemini generate: nil context")
	}
	if p.models == nil {
		return "", fmt.Errorf("gemini generate: models client is nil")
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("gemini generate validate request: %w", err)
	}

	contents, config := mapGenerateRequest(req)

	response, err := p.models.GenerateContent(ctx, strings.TrimSpace(req.Model), contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("gemini generate: nil response")
	}
	text := response.Text()
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}

	return text, nil
}

// mapGenerateRequest converts the neutral request into Gemini contents plus
// generation config. System messages become the system instruction; image
// URLs are appended to the user text since the Gemini API cannot fetch
// arbitrary remote images.
func mapGenerateRequest(req hubwatch.LLMGenerateRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if !req.Reasoning {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, message := range req.Messages {
		text := message.Content
		if len(message.ImageURLs) > 0 {
			text = text + "\n\nImages:\n" + strings.Join(message.ImageURLs, "\n")
		}
		switch message.Role {
		case hubwatch.LLMMessageRoleSystem:
			config.SystemInstruction = genai.NewContentFromText(text, genai.RoleUser)
		case hubwatch.LLMMessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}

	return contents, config
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIVersion = strings.TrimSpace(cfg.APIVersion)

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
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}

	return cfg, nil
}

var _ hubwatch.LLMProvider = (*Provider)(nil)
