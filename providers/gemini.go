package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// GeminiProvider implements the Provider interface for Google's Generative
// Language API. It supports system instructions, function calling with JSON
// schemas, SSE streaming and usage reporting.
type GeminiProvider struct {
	apiKey       string
	model        string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger
}

// NewGeminiProvider creates a new Google Gemini provider instance. The model
// can be a bare ID ("gemini-1.5-flash"); the full resource name is formatted
// into the endpoint path.
func NewGeminiProvider(apiKey, model string, extraHeaders map[string]string) *GeminiProvider {
	provider := &GeminiProvider{
		apiKey:       apiKey,
		model:        model,
		extraHeaders: make(map[string]string),
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
	for k, v := range extraHeaders {
		provider.extraHeaders[k] = v
	}
	return provider
}

// Name returns the provider's identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) modelPath() string {
	if strings.HasPrefix(p.model, "models/") {
		return p.model
	}
	return "models/" + p.model
}

// Endpoint returns the generateContent URL with the model in the path.
func (p *GeminiProvider) Endpoint() string {
	return fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/%s:generateContent", p.modelPath())
}

// StreamEndpoint returns the streamGenerateContent URL with SSE framing.
func (p *GeminiProvider) StreamEndpoint() string {
	return fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/%s:streamGenerateContent?alt=sse", p.modelPath())
}

// Headers returns the headers required for Gemini API requests.
func (p *GeminiProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": p.apiKey,
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

// SetExtraHeaders configures additional HTTP headers for API requests.
func (p *GeminiProvider) SetExtraHeaders(extraHeaders map[string]string) {
	p.extraHeaders = extraHeaders
}

// SetLogger configures a custom logger.
func (p *GeminiProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

// SetOption sets a request option (e.g. "temperature", "max_tokens").
func (p *GeminiProvider) SetOption(key string, value any) {
	p.options[key] = value
}

// SetDefaultOptions applies the global config defaults.
func (p *GeminiProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("max_tokens", cfg.MaxTokens)
	p.SetOption("top_p", cfg.TopP)
	if cfg.Seed != nil {
		p.SetOption("seed", *cfg.Seed)
	}
}

func (p *GeminiProvider) SupportsStreaming() bool   { return true }
func (p *GeminiProvider) SupportsToolCalling() bool { return true }
func (p *GeminiProvider) SupportsJSONSchema() bool  { return true }

// PrepareRequest builds the generateContent body: contents with role
// user/model/tool parts, optional systemInstruction, functionDeclarations
// and generationConfig.
func (p *GeminiProvider) PrepareRequest(req *Request, options map[string]any) ([]byte, error) {
	requestBody := map[string]any{
		"contents": p.buildContents(req.Messages),
	}

	if req.SystemPrompt != "" {
		requestBody["systemInstruction"] = map[string]any{
			"parts": []map[string]string{
				{"text": req.SystemPrompt},
			},
		}
	}

	if len(req.Tools) > 0 {
		funcDecls := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			funcDecls = append(funcDecls, map[string]any{
				"name":        tool.Function.Name,
				"description": tool.Function.Description,
				"parameters":  tool.Function.Parameters,
			})
		}
		requestBody["tools"] = []map[string]any{
			{"functionDeclarations": funcDecls},
		}
		if mode, ok := options["function_call_mode"].(string); ok && mode != "" {
			requestBody["toolConfig"] = map[string]any{
				"functionCallingConfig": map[string]any{
					"mode": mode,
				},
			}
		}
	}

	genConfig := p.generationConfig(options)
	if req.ResponseSchema != nil {
		genConfig["responseMimeType"] = "application/json"
		genConfig["responseSchema"] = req.ResponseSchema
	}
	if len(genConfig) > 0 {
		requestBody["generationConfig"] = genConfig
	}

	data, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}

// PrepareStreamRequest reuses the same payload; streaming is selected by
// calling the streamGenerateContent endpoint with alt=sse.
func (p *GeminiProvider) PrepareStreamRequest(req *Request, options map[string]any) ([]byte, error) {
	return p.PrepareRequest(req, options)
}

// buildContents converts portable messages to Gemini contents. The
// assistant role maps to "model"; tool results become functionResponse
// parts under role "tool".
func (p *GeminiProvider) buildContents(messages []types.Message) []map[string]any {
	contents := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleAssistant:
			parts := make([]map[string]any, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, map[string]any{"text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": tc.Function.Name,
						"args": args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, map[string]any{"role": "model", "parts": parts})
		case types.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				// Plain-text tool output is wrapped so the part stays an object.
				response = map[string]any{"result": msg.Content}
			}
			contents = append(contents, map[string]any{
				"role": "tool",
				"parts": []map[string]any{
					{
						"functionResponse": map[string]any{
							"name":     msg.Name,
							"response": response,
						},
					},
				},
			})
		case types.RoleUser:
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{
					{"text": msg.Content},
				},
			})
		default:
			p.logger.Warn("Skipping message with unsupported role", "role", msg.Role)
		}
	}
	return contents
}

func (p *GeminiProvider) generationConfig(options map[string]any) map[string]any {
	merged := make(map[string]any, len(p.options)+len(options))
	for k, v := range p.options {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}

	genConfig := make(map[string]any)
	if maxTokens, ok := merged["max_tokens"].(int); ok && maxTokens > 0 {
		genConfig["maxOutputTokens"] = maxTokens
	}
	if temp, ok := merged["temperature"].(float64); ok {
		genConfig["temperature"] = temp
	}
	if topP, ok := merged["top_p"].(float64); ok {
		genConfig["topP"] = topP
	}
	if topK, ok := merged["top_k"].(int); ok {
		genConfig["topK"] = topK
	}
	if seed, ok := merged["seed"].(int); ok {
		genConfig["seed"] = seed
	}
	if stops, ok := merged["stop_sequences"].([]string); ok && len(stops) > 0 {
		genConfig["stopSequences"] = stops
	}
	return genConfig
}

type geminiCandidatePart struct {
	Text         *string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
}

type geminiCompletion struct {
	Candidates []struct {
		Content struct {
			Parts []geminiCandidatePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata,omitempty"`
}

func (p *GeminiProvider) toResponse(completion *geminiCompletion) *Response {
	result := &Response{}
	if completion.UsageMetadata != nil {
		um := completion.UsageMetadata
		result.Usage = NewUsage(um.PromptTokenCount, um.CachedContentTokenCount, um.CandidatesTokenCount, 0)
	}
	if len(completion.Candidates) == 0 {
		return result
	}

	candidate := completion.Candidates[0]
	result.FinishReason = candidate.FinishReason
	result.Done = candidate.FinishReason != ""

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != nil {
			text.WriteString(*part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			// Gemini function calls carry no id; synthesize one so results
			// can be correlated the same way as the other providers.
			result.ToolCalls = append(result.ToolCalls,
				types.NewToolCall(uuid.NewString(), part.FunctionCall.Name, args))
		}
	}
	result.Content = text.String()
	return result
}

// ParseResponse parses a non-streaming generateContent response.
func (p *GeminiProvider) ParseResponse(body []byte) (*Response, error) {
	var completion geminiCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(completion.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	resp := p.toResponse(&completion)
	resp.Done = true
	return resp, nil
}

// ParseStreamResponse processes a single SSE data chunk.
func (p *GeminiProvider) ParseStreamResponse(chunk []byte) (*Response, error) {
	data := bytes.TrimSpace(chunk)
	if len(data) == 0 {
		return nil, ErrSkipChunk
	}
	if bytes.Equal(data, []byte("[DONE]")) {
		return nil, io.EOF
	}

	var completion geminiCompletion
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}

	resp := p.toResponse(&completion)
	if resp.Content == "" && len(resp.ToolCalls) == 0 && resp.Usage == nil && !resp.Done {
		return nil, ErrSkipChunk
	}
	return resp, nil
}
