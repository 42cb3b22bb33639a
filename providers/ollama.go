package providers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// OllamaProvider implements the Provider interface for Ollama's chat API,
// enabling locally hosted models (Llama, Mistral, ...). Ollama requires no
// API key; the apiKey argument is ignored. Responses stream as NDJSON.
type OllamaProvider struct {
	endpoint     string
	model        string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger
}

// NewOllamaProvider creates a new Ollama provider instance with the default
// local endpoint.
func NewOllamaProvider(_ string, model string, extraHeaders map[string]string) *OllamaProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &OllamaProvider{
		endpoint:     "http://localhost:11434",
		model:        model,
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
}

// Name returns the identifier for this provider.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Endpoint returns the chat URL under the configured Ollama host.
func (p *OllamaProvider) Endpoint() string {
	return p.endpoint + "/api/chat"
}

// StreamEndpoint is the same URL; streaming is selected in the body.
func (p *OllamaProvider) StreamEndpoint() string {
	return p.Endpoint()
}

// Headers returns the headers required for Ollama API requests.
func (p *OllamaProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

// SetExtraHeaders configures additional HTTP headers for API requests.
func (p *OllamaProvider) SetExtraHeaders(extraHeaders map[string]string) {
	p.extraHeaders = extraHeaders
}

// SetLogger configures a custom logger.
func (p *OllamaProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

// SetOption sets a model option. Generation parameters (temperature,
// num_predict, top_p, seed, ...) go into the request's options map.
func (p *OllamaProvider) SetOption(key string, value any) {
	p.options[key] = value
}

// SetDefaultOptions applies global config defaults, mapping max tokens to
// Ollama's num_predict and picking up the configured endpoint.
func (p *OllamaProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("num_predict", cfg.MaxTokens)
	p.SetOption("top_p", cfg.TopP)
	if cfg.Seed != nil {
		p.SetOption("seed", *cfg.Seed)
	}
	if cfg.OllamaEndpoint != "" {
		p.endpoint = cfg.OllamaEndpoint
	}
}

func (p *OllamaProvider) SupportsStreaming() bool   { return true }
func (p *OllamaProvider) SupportsToolCalling() bool { return true }
func (p *OllamaProvider) SupportsJSONSchema() bool  { return false }

// generation parameter keys that belong in Ollama's options map rather than
// at the top level of the request.
var ollamaGenerationKeys = map[string]bool{
	"temperature": true, "num_predict": true, "top_p": true, "top_k": true,
	"seed": true, "stop": true, "repeat_penalty": true, "repeat_last_n": true,
	"min_p": true, "mirostat": true, "mirostat_eta": true, "mirostat_tau": true,
}

// PrepareRequest creates the /api/chat body. Non-streaming calls must set
// stream=false explicitly since Ollama streams by default.
func (p *OllamaProvider) PrepareRequest(req *Request, options map[string]any) ([]byte, error) {
	requestBody := map[string]any{
		"model":    p.model,
		"messages": p.buildMessages(req),
		"stream":   false,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Function.Name,
					"description": tool.Function.Description,
					"parameters":  tool.Function.Parameters,
				},
			})
		}
		requestBody["tools"] = tools
	}

	generation := make(map[string]any)
	for k, v := range p.options {
		if ollamaGenerationKeys[k] {
			generation[k] = v
		} else {
			requestBody[k] = v
		}
	}
	for k, v := range options {
		if ollamaGenerationKeys[k] {
			generation[k] = v
		} else {
			requestBody[k] = v
		}
	}
	if len(generation) > 0 {
		requestBody["options"] = generation
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

// PrepareStreamRequest prepares a request body for NDJSON streaming.
func (p *OllamaProvider) PrepareStreamRequest(req *Request, options map[string]any) ([]byte, error) {
	merged := make(map[string]any, len(options)+1)
	for k, v := range options {
		merged[k] = v
	}
	merged["stream"] = true
	return p.PrepareRequest(req, merged)
}

func (p *OllamaProvider) buildMessages(req *Request) []map[string]any {
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
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				toolCalls = append(toolCalls, map[string]any{
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": args,
					},
				})
			}
			entry["tool_calls"] = toolCalls
		}
		messages = append(messages, entry)
	}
	return messages
}

type ollamaChatResponse struct {
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

func (p *OllamaProvider) toResponse(chat *ollamaChatResponse) *Response {
	result := &Response{
		Content:      chat.Message.Content,
		FinishReason: chat.DoneReason,
		Done:         chat.Done,
	}
	for _, tc := range chat.Message.ToolCalls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		// Ollama tool calls carry no id; synthesize one for correlation.
		result.ToolCalls = append(result.ToolCalls,
			types.NewToolCall(uuid.NewString(), tc.Function.Name, args))
	}
	if chat.PromptEvalCount > 0 || chat.EvalCount > 0 {
		result.Usage = NewUsage(chat.PromptEvalCount, 0, chat.EvalCount, 0)
	}
	return result
}

// ParseResponse extracts the message from a non-streaming /api/chat reply.
func (p *OllamaProvider) ParseResponse(body []byte) (*Response, error) {
	var chat ollamaChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("error parsing Ollama response: %w", err)
	}
	resp := p.toResponse(&chat)
	resp.Done = true
	return resp, nil
}

// ParseStreamResponse parses a single NDJSON line from a streaming reply.
func (p *OllamaProvider) ParseStreamResponse(chunk []byte) (*Response, error) {
	data := bytes.TrimSpace(chunk)
	if len(data) == 0 {
		return nil, ErrSkipChunk
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}

	resp := p.toResponse(&chat)
	if resp.Content == "" && len(resp.ToolCalls) == 0 && resp.Usage == nil && !resp.Done {
		return nil, ErrSkipChunk
	}
	return resp, nil
}
