package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// OpenAIProvider implements the Provider interface for OpenAI's chat
// completions API. DeepSeek and other OpenAI-compatible vendors embed it
// and override name, endpoint and defaults.
type OpenAIProvider struct {
	apiKey       string
	model        string
	endpoint     string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(apiKey, model string, extraHeaders map[string]string) *OpenAIProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		model:        model,
		endpoint:     "https://api.openai.com/v1/chat/completions",
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
}

// Name returns the provider's identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Endpoint returns the chat completions URL.
func (p *OpenAIProvider) Endpoint() string {
	return p.endpoint
}

// StreamEndpoint is the same URL; streaming is selected in the body.
func (p *OpenAIProvider) StreamEndpoint() string {
	return p.endpoint
}

// Headers returns the headers required for API requests.
func (p *OpenAIProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + p.apiKey,
	}
	for key, value := range p.extraHeaders {
		headers[key] = value
	}
	return headers
}

// SetExtraHeaders sets additional headers for API requests.
func (p *OpenAIProvider) SetExtraHeaders(extraHeaders map[string]string) {
	p.extraHeaders = extraHeaders
}

// SetLogger configures a custom logger.
func (p *OpenAIProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

// SetOption sets a request option (e.g. "temperature", "max_tokens").
func (p *OpenAIProvider) SetOption(key string, value any) {
	p.options[key] = value
	p.logger.Debug("Option set", "provider", p.Name(), "key", key, "value", value)
}

// SetDefaultOptions applies the global config defaults.
func (p *OpenAIProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("max_tokens", cfg.MaxTokens)
	p.SetOption("top_p", cfg.TopP)
	if cfg.Seed != nil {
		p.SetOption("seed", *cfg.Seed)
	}
}

func (p *OpenAIProvider) SupportsStreaming() bool   { return true }
func (p *OpenAIProvider) SupportsToolCalling() bool { return true }
func (p *OpenAIProvider) SupportsJSONSchema() bool  { return true }

// PrepareRequest builds the JSON body for a chat completions call.
func (p *OpenAIProvider) PrepareRequest(req *Request, options map[string]any) ([]byte, error) {
	requestBody := map[string]any{
		"model":    p.model,
		"messages": p.buildMessages(req),
	}

	if len(req.Tools) > 0 {
		requestBody["tools"] = p.buildTools(req.Tools)
	}

	if req.ResponseSchema != nil {
		requestBody["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": req.ResponseSchema,
				"strict": true,
			},
		}
	}

	for k, v := range p.options {
		requestBody[k] = v
	}
	for k, v := range options {
		requestBody[k] = v
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

// PrepareStreamRequest builds the body for a streaming call.
func (p *OpenAIProvider) PrepareStreamRequest(req *Request, options map[string]any) ([]byte, error) {
	merged := make(map[string]any, len(options)+2)
	for k, v := range options {
		merged[k] = v
	}
	merged["stream"] = true
	merged["stream_options"] = map[string]any{"include_usage": true}
	return p.PrepareRequest(req, merged)
}

// buildMessages converts portable messages to the OpenAI message list,
// with the system prompt as the leading message.
func (p *OpenAIProvider) buildMessages(req *Request) []map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		entry := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.Name != "" {
			entry["name"] = msg.Name
		}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name": tc.Function.Name,
						// OpenAI wants arguments as a JSON-encoded string.
						"arguments": string(tc.Function.Arguments),
					},
				})
			}
			entry["tool_calls"] = toolCalls
		}
		messages = append(messages, entry)
	}

	return messages
}

func (p *OpenAIProvider) buildTools(tools []types.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Function.Name,
				"description": tool.Function.Description,
				"parameters":  tool.Function.Parameters,
			},
		})
	}
	return out
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

func (u *openAIUsage) toUsage() *Usage {
	var cached int64
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	return NewUsage(u.PromptTokens, cached, u.CompletionTokens, 0)
}

// ParseResponse extracts content, tool calls and usage from a non-streaming
// chat completion.
func (p *OpenAIProvider) ParseResponse(body []byte) (*Response, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content   string           `json:"content"`
				ToolCalls []openAIToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *openAIUsage `json:"usage,omitempty"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	choice := response.Choices[0]
	result := &Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Done:         true,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls,
			types.NewToolCall(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	if response.Usage != nil {
		result.Usage = response.Usage.toUsage()
	}
	return result, nil
}

// ParseStreamResponse handles one SSE data payload from a streaming call.
// Tool calls arrive fragmented across chunks; fragments are surfaced as
// deltas for the stream layer to accumulate.
func (p *OpenAIProvider) ParseStreamResponse(chunk []byte) (*Response, error) {
	data := bytes.TrimSpace(chunk)
	if len(data) == 0 {
		return nil, ErrSkipChunk
	}
	if bytes.Equal(data, []byte("[DONE]")) {
		return nil, io.EOF
	}

	var response struct {
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *openAIUsage `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}

	result := &Response{}
	if response.Usage != nil {
		result.Usage = response.Usage.toUsage()
	}
	if len(response.Choices) == 0 {
		if result.Usage == nil {
			return nil, ErrSkipChunk
		}
		return result, nil
	}

	choice := response.Choices[0]
	result.Content = choice.Delta.Content
	result.FinishReason = choice.FinishReason
	result.Done = choice.FinishReason != ""
	for _, tc := range choice.Delta.ToolCalls {
		result.ToolCallDeltas = append(result.ToolCallDeltas, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}
