package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// MockProvider implements the Provider interface for tests. Responses are
// scripted: each ParseResponse call consumes the next queued response.
type MockProvider struct {
	endpoint     string
	model        string
	extraHeaders map[string]string
	options      map[string]any
	logger       utils.Logger

	responses    []*Response
	currentIndex int
	shouldError  bool
	errorMsg     string
}

// NewMockProvider creates a mock provider pointed at the given endpoint
// (typically an httptest server).
func NewMockProvider(endpoint, model string, extraHeaders map[string]string) *MockProvider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &MockProvider{
		endpoint:     endpoint,
		model:        model,
		extraHeaders: extraHeaders,
		options:      make(map[string]any),
		logger:       utils.NewLogger(utils.LogLevelOff),
		responses:    []*Response{{Content: "mock response", Done: true}},
	}
}

// QueueResponse appends a scripted response.
func (p *MockProvider) QueueResponse(resp *Response) {
	p.responses = append(p.responses, resp)
}

// SetResponses replaces the scripted response queue.
func (p *MockProvider) SetResponses(responses ...*Response) {
	p.responses = responses
	p.currentIndex = 0
}

// SetMockError makes every call fail with the given message.
func (p *MockProvider) SetMockError(shouldError bool, errorMsg string) {
	p.shouldError = shouldError
	p.errorMsg = errorMsg
}

// SetEndpoint repoints the mock, e.g. at an httptest server.
func (p *MockProvider) SetEndpoint(endpoint string) {
	p.endpoint = endpoint
}

func (p *MockProvider) Name() string                              { return "mock" }
func (p *MockProvider) Endpoint() string                          { return p.endpoint }
func (p *MockProvider) StreamEndpoint() string                    { return p.endpoint }
func (p *MockProvider) SetExtraHeaders(headers map[string]string) { p.extraHeaders = headers }
func (p *MockProvider) SetLogger(logger utils.Logger)             { p.logger = logger }
func (p *MockProvider) SetOption(key string, value any)           { p.options[key] = value }
func (p *MockProvider) SetDefaultOptions(cfg *config.Config)      {}
func (p *MockProvider) SupportsStreaming() bool                   { return true }
func (p *MockProvider) SupportsToolCalling() bool                 { return true }
func (p *MockProvider) SupportsJSONSchema() bool                  { return true }

func (p *MockProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

// PrepareRequest marshals the portable request as-is so tests can inspect
// exactly what the orchestration layer sent.
func (p *MockProvider) PrepareRequest(req *Request, options map[string]any) ([]byte, error) {
	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}
	body := map[string]any{
		"model":   p.model,
		"request": req,
	}
	for k, v := range options {
		body[k] = v
	}
	return json.Marshal(body)
}

func (p *MockProvider) PrepareStreamRequest(req *Request, options map[string]any) ([]byte, error) {
	return p.PrepareRequest(req, options)
}

func (p *MockProvider) next() (*Response, error) {
	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}
	if p.currentIndex >= len(p.responses) {
		return nil, fmt.Errorf("mock provider: response queue exhausted after %d responses", len(p.responses))
	}
	resp := p.responses[p.currentIndex]
	p.currentIndex++
	return resp, nil
}

// ParseResponse returns the next scripted response, ignoring the body.
func (p *MockProvider) ParseResponse(_ []byte) (*Response, error) {
	return p.next()
}

// ParseStreamResponse interprets each chunk as a scripted text token; the
// literal "[DONE]" ends the stream.
func (p *MockProvider) ParseStreamResponse(chunk []byte) (*Response, error) {
	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}
	if string(chunk) == "[DONE]" {
		return nil, io.EOF
	}
	return &Response{Content: string(chunk)}, nil
}

// MockToolCall is a convenience for scripting tool-call turns in tests.
func MockToolCall(id, name string, args map[string]any) types.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return types.NewToolCall(id, name, raw)
}
