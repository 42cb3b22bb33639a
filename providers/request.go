package providers

import (
	"github.com/modelmux/modelmux/types"
)

// Request is the portable request shape handed to adapters. The system
// prompt lives outside the message list; adapters put it wherever their
// wire format wants it (OpenAI: leading system message, Gemini:
// systemInstruction).
type Request struct {
	SystemPrompt   string          `json:"system_prompt,omitempty"`
	Messages       []types.Message `json:"messages"`
	Tools          []types.Tool    `json:"tools,omitempty"`
	ResponseSchema map[string]any  `json:"response_schema,omitempty"`
}

// Clone returns a deep-enough copy: the message slice is duplicated so the
// tool loop can append follow-up turns without mutating the caller's request.
func (r *Request) Clone() *Request {
	messages := make([]types.Message, len(r.Messages))
	copy(messages, r.Messages)
	return &Request{
		SystemPrompt:   r.SystemPrompt,
		Messages:       messages,
		Tools:          r.Tools,
		ResponseSchema: r.ResponseSchema,
	}
}

// RequestBuilder helps construct Request objects.
type RequestBuilder struct {
	systemPrompt   string
	messages       []types.Message
	tools          []types.Tool
	responseSchema map[string]any
}

// NewRequestBuilder creates an empty request builder.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{
		messages: []types.Message{},
	}
}

// WithPrompt adds a simple user prompt.
func (rb *RequestBuilder) WithPrompt(prompt string) *RequestBuilder {
	rb.messages = append(rb.messages, types.NewUserMessage(prompt))
	return rb
}

// WithMessages appends multiple messages.
func (rb *RequestBuilder) WithMessages(messages []types.Message) *RequestBuilder {
	rb.messages = append(rb.messages, messages...)
	return rb
}

// WithMessage appends a single message.
func (rb *RequestBuilder) WithMessage(role, content string) *RequestBuilder {
	rb.messages = append(rb.messages, types.Message{Role: role, Content: content})
	return rb
}

// WithSystemPrompt sets the system prompt.
func (rb *RequestBuilder) WithSystemPrompt(prompt string) *RequestBuilder {
	rb.systemPrompt = prompt
	return rb
}

// WithTools declares the tools offered to the model.
func (rb *RequestBuilder) WithTools(tools []types.Tool) *RequestBuilder {
	rb.tools = append(rb.tools, tools...)
	return rb
}

// WithResponseSchema sets the structured response schema.
func (rb *RequestBuilder) WithResponseSchema(schema map[string]any) *RequestBuilder {
	rb.responseSchema = schema
	return rb
}

// Build creates the final Request object.
func (rb *RequestBuilder) Build() *Request {
	return &Request{
		SystemPrompt:   rb.systemPrompt,
		Messages:       rb.messages,
		Tools:          rb.tools,
		ResponseSchema: rb.responseSchema,
	}
}
