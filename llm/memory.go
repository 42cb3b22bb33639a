package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// Memory manages conversation history with token-based truncation. It is
// safe for concurrent use; when the token budget is exceeded the oldest
// messages are dropped first.
type Memory struct {
	messages    []types.MemoryMessage
	mutex       sync.Mutex
	totalTokens int
	maxTokens   int
	encoding    *tiktoken.Tiktoken
	logger      utils.Logger
}

// NewMemory creates a Memory with the given token budget. The token encoder
// is chosen by model name, falling back to the gpt-4o encoding for models
// tiktoken does not know (local Ollama models, Gemini).
func NewMemory(maxTokens int, model string, logger utils.Logger) (*Memory, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Debug("No token encoding for model, defaulting to gpt-4o", "model", model)
		encoding, err = tiktoken.EncodingForModel("gpt-4o")
		if err != nil {
			return nil, fmt.Errorf("failed to get default encoding: %w", err)
		}
	}

	return &Memory{
		messages:  []types.MemoryMessage{},
		maxTokens: maxTokens,
		encoding:  encoding,
		logger:    logger,
	}, nil
}

// Add appends a message, truncating older history if the budget overflows.
func (m *Memory) Add(role, content string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	tokens := len(m.encoding.Encode(content, nil, nil))
	m.messages = append(m.messages, types.MemoryMessage{Role: role, Content: content, Tokens: tokens})
	m.totalTokens += tokens

	m.truncate()
	m.logger.Debug("Added message to memory", "role", role, "tokens", tokens, "total_tokens", m.totalTokens)
}

// truncate drops oldest messages until the history fits the budget.
// Caller must hold the mutex.
func (m *Memory) truncate() {
	for m.totalTokens > m.maxTokens && len(m.messages) > 1 {
		removed := m.messages[0]
		m.messages = m.messages[1:]
		m.totalTokens -= removed.Tokens
	}
}

// Messages returns a copy of the current history as portable messages.
func (m *Memory) Messages() []types.Message {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]types.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, types.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// TotalTokens returns the token count of the retained history.
func (m *Memory) TotalTokens() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.totalTokens
}

// Clear drops all history.
func (m *Memory) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages = m.messages[:0]
	m.totalTokens = 0
}

// ChatSession threads token-bounded memory through a Client so multi-turn
// conversations stay within the model's context window.
type ChatSession struct {
	client *Client
	memory *Memory
}

// NewChatSession creates a session over the client using the config's
// memory budget.
func NewChatSession(client *Client) (*ChatSession, error) {
	maxTokens := 4096
	if client.config.MemoryOption != nil {
		maxTokens = client.config.MemoryOption.MaxTokens
	}
	memory, err := NewMemory(maxTokens, client.config.Model, client.logger)
	if err != nil {
		return nil, NewLLMError(ErrorTypeProvider, "failed to create memory", err)
	}
	return &ChatSession{client: client, memory: memory}, nil
}

// Send adds the user message to memory, runs a full generation over the
// remembered history and records the assistant's reply.
func (s *ChatSession) Send(ctx context.Context, content string) (*providers.Response, error) {
	s.memory.Add(types.RoleUser, content)

	req := &providers.Request{
		SystemPrompt: s.client.config.SystemPrompt,
		Messages:     s.memory.Messages(),
	}
	response, err := s.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	s.memory.Add(types.RoleAssistant, response.Content)
	return response, nil
}

// Memory exposes the underlying memory, e.g. for inspection in tests.
func (s *ChatSession) Memory() *Memory {
	return s.memory
}
