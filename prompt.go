package modelmux

import (
	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
)

// Prompt is the portable prompt handed to Generate and Stream. Input is
// the current user message; Messages optionally carries prior turns.
type Prompt struct {
	Input        string
	SystemPrompt string
	Messages     []types.Message
}

// NewPrompt creates a Prompt with the given user input.
func NewPrompt(input string, opts ...PromptOption) *Prompt {
	p := &Prompt{Input: input}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PromptOption configures a Prompt.
type PromptOption func(*Prompt)

// WithSystemPrompt sets the system prompt for this request, overriding the
// configured default.
func WithSystemPrompt(prompt string) PromptOption {
	return func(p *Prompt) {
		p.SystemPrompt = prompt
	}
}

// WithMessages seeds the conversation with prior turns.
func WithMessages(messages []types.Message) PromptOption {
	return func(p *Prompt) {
		p.Messages = messages
	}
}

// toRequest lowers the prompt into the provider request shape. A prompt
// system prompt wins over the configured default.
func (p *Prompt) toRequest(cfg *config.Config) *providers.Request {
	systemPrompt := cfg.SystemPrompt
	if p.SystemPrompt != "" {
		systemPrompt = p.SystemPrompt
	}

	builder := providers.NewRequestBuilder().
		WithSystemPrompt(systemPrompt).
		WithMessages(p.Messages)
	if p.Input != "" {
		builder = builder.WithPrompt(p.Input)
	}
	return builder.Build()
}
