package hubwatch

import (
	"context"
	"fmt"
	"strings"
)

// LLMMessageRole identifies who authored one conversation message.
type LLMMessageRole string

const (
	// LLMMessageRoleSystem is the system instruction role.
	LLMMessageRoleSystem LLMMessageRole = "system"
	// LLMMessageRoleUser is the end-user role.
	LLMMessageRoleUser LLMMessageRole = "user"
	// LLMMessageRoleAssistant is the model role.
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
)

// LLMMessage is one conversation turn in a generation request.
type LLMMessage struct {
	// Role identifies the message author.
	Role LLMMessageRole
	// Content is the message text body.
	Content string
	// ImageURLs optionally attaches image references for multimodal turns.
	ImageURLs []string
}

// LLMGenerateRequest describes one text generation call.
type LLMGenerateRequest struct {
	// Model overrides the provider default model when non-empty.
	Model string
	// Messages is the ordered conversation to complete.
	Messages []LLMMessage
	// Reasoning asks the provider to enable extended reasoning when supported.
	Reasoning bool
	// MaxOutputTokens bounds the generated text length when > 0.
	MaxOutputTokens int
	// Temperature overrides sampling temperature when > 0.
	Temperature float64
}

// Validate checks generation request invariants.
func (r LLMGenerateRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: empty messages", ErrInvalidLLMRequest)
	}
	for index, message := range r.Messages {
		switch message.Role {
		case LLMMessageRoleSystem, LLMMessageRoleUser, LLMMessageRoleAssistant:
		default:
			return fmt.Errorf("%w: messages[%d]: unsupported role %q", ErrInvalidLLMRequest, index, message.Role)
		}
		if strings.TrimSpace(message.Content) == "" && len(message.ImageURLs) == 0 {
			return fmt.Errorf("%w: messages[%d]: empty content", ErrInvalidLLMRequest, index)
		}
	}
	if r.MaxOutputTokens < 0 {
		return fmt.Errorf("%w: negative max_output_tokens", ErrInvalidLLMRequest)
	}

	return nil
}

// LLMProvider generates text from one conversation request.
//
// Generate returns the first choice's text. Upstream timeouts, non-2xx
// responses, and empty choices degrade to an error the caller treats as
// "no output"; providers never panic past this boundary.
type LLMProvider interface {
	Generate(ctx context.Context, req LLMGenerateRequest) (string, error)
}

// LLMProviderRegistry resolves configured providers by stable profile key.
type LLMProviderRegistry interface {
	// Resolve returns one configured provider by key.
	Resolve(profile string) (LLMProvider, error)
}
