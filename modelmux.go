// Package modelmux provides a unified interface for chat completion across
// multiple LLM providers (OpenAI, DeepSeek, Google Gemini, Ollama). It
// translates a portable prompt into each provider's wire format, handles
// streaming responses, and runs the tool-calling loop: when the model
// requests a tool, the tool executes and its result feeds a follow-up
// request until the model produces a final answer.
package modelmux

import (
	"context"
	"encoding/json"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/llm"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// Re-exported option helpers so callers only import the root package.
type ConfigOption = config.ConfigOption

var (
	SetProvider          = config.SetProvider
	SetModel             = config.SetModel
	SetAPIKey            = config.SetAPIKey
	SetOllamaEndpoint    = config.SetOllamaEndpoint
	SetTemperature       = config.SetTemperature
	SetMaxTokens         = config.SetMaxTokens
	SetTimeout           = config.SetTimeout
	SetMaxRetries        = config.SetMaxRetries
	SetRetryDelay        = config.SetRetryDelay
	SetMaxToolIterations = config.SetMaxToolIterations
	SetRateLimit         = config.SetRateLimit
	SetEnableCaching     = config.SetEnableCaching
	SetLogLevel          = config.SetLogLevel
	SetSystemPrompt      = config.SetSystemPrompt
	SetMemory            = config.SetMemory
	SetSeed              = config.SetSeed
)

// LogLevel aliases for callers configuring verbosity through the facade.
const (
	LogLevelOff   = utils.LogLevelOff
	LogLevelError = utils.LogLevelError
	LogLevelWarn  = utils.LogLevelWarn
	LogLevelInfo  = utils.LogLevelInfo
	LogLevelDebug = utils.LogLevelDebug
)

// LLM is the public interface for interacting with a configured provider.
type LLM interface {
	// Generate produces a completion for the prompt, running tool calls
	// as needed.
	Generate(ctx context.Context, prompt *Prompt) (string, error)

	// GenerateWithSchema produces a completion conforming to the JSON
	// schema reflected from schemaValue.
	GenerateWithSchema(ctx context.Context, prompt *Prompt, schemaValue any) (string, error)

	// Stream produces a token stream for the prompt; tool-loop
	// continuations stream through transparently.
	Stream(ctx context.Context, prompt *Prompt) (llm.TokenStream, error)

	// RegisterTool exposes a function to the model. The parameters schema
	// is reflected from argsExample.
	RegisterTool(name, description string, argsExample any, handler llm.ToolHandler) error

	// NewChatSession starts a multi-turn conversation with token-bounded
	// memory.
	NewChatSession() (*llm.ChatSession, error)

	// SetOption sets a provider option for subsequent requests.
	SetOption(key string, value any)

	GetProvider() string
	GetModel() string

	// Close releases pooled resources.
	Close()
}

type llmImpl struct {
	client *llm.Client
	config *config.Config
}

// New creates an LLM from environment configuration plus the given
// overrides.
func New(opts ...ConfigOption) (LLM, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	config.ApplyOptions(cfg, opts...)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := utils.NewLogger(cfg.LogLevel)
	client, err := llm.NewClient(cfg, logger, providers.NewRegistry())
	if err != nil {
		return nil, err
	}

	return &llmImpl{client: client, config: cfg}, nil
}

func (l *llmImpl) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	resp, err := l.client.Generate(ctx, prompt.toRequest(l.config))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (l *llmImpl) GenerateWithSchema(ctx context.Context, prompt *Prompt, schemaValue any) (string, error) {
	resp, err := l.client.GenerateWithSchema(ctx, prompt.toRequest(l.config), schemaValue)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (l *llmImpl) Stream(ctx context.Context, prompt *Prompt) (llm.TokenStream, error) {
	return l.client.Stream(ctx, prompt.toRequest(l.config))
}

func (l *llmImpl) RegisterTool(name, description string, argsExample any, handler llm.ToolHandler) error {
	return l.client.Tools().RegisterWithStruct(name, description, argsExample, handler)
}

func (l *llmImpl) NewChatSession() (*llm.ChatSession, error) {
	return llm.NewChatSession(l.client)
}

func (l *llmImpl) SetOption(key string, value any) {
	l.client.SetOption(key, value)
}

func (l *llmImpl) GetProvider() string {
	return l.config.Provider
}

func (l *llmImpl) GetModel() string {
	return l.config.Model
}

func (l *llmImpl) Close() {
	l.client.Close()
}

// ToolHandler re-exports the handler signature for tool registration.
type ToolHandler = llm.ToolHandler

// RawMessage re-exports json.RawMessage for handler signatures.
type RawMessage = json.RawMessage

// Message and ToolCall aliases for callers building conversations directly.
type (
	Message  = types.Message
	Tool     = types.Tool
	ToolCall = types.ToolCall
)
