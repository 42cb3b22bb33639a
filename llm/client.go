// Package llm implements the provider-independent orchestration: building
// requests, calling the provider under a retry policy, executing requested
// tools and feeding their results back until the model produces a final
// answer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/schema"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// Client drives one provider. It is safe for concurrent use as long as
// options and tools are configured before the first call.
type Client struct {
	Provider providers.Provider
	Options  map[string]any

	client *http.Client
	// streamClient has no overall timeout; a stream legitimately outlives
	// the per-request timeout and is bounded by ctx instead.
	streamClient *http.Client
	logger       utils.Logger
	config       *config.Config
	tools        *ToolRegistry
	cache        *ResponseCache
	limiter      *rate.Limiter

	MaxRetries        int
	RetryDelay        time.Duration
	MaxToolIterations int
}

// NewClient builds a client for the provider named in cfg.
func NewClient(cfg *config.Config, logger utils.Logger, registry *providers.Registry) (*Client, error) {
	provider, err := registry.Get(cfg.Provider, cfg.APIKeys[cfg.Provider], cfg.Model, cfg.ExtraHeaders)
	if err != nil {
		return nil, NewLLMError(ErrorTypeProvider, "failed to create provider", err)
	}

	provider.SetDefaultOptions(cfg)
	provider.SetLogger(logger)

	tools, err := NewToolRegistry(cfg.ToolWorkers, logger)
	if err != nil {
		return nil, NewLLMError(ErrorTypeProvider, "failed to create tool registry", err)
	}

	c := &Client{
		Provider:          provider,
		Options:           make(map[string]any),
		client:            &http.Client{Timeout: cfg.Timeout},
		streamClient:      &http.Client{},
		logger:            logger,
		config:            cfg,
		tools:             tools,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		MaxToolIterations: cfg.MaxToolIterations,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	if cfg.EnableCaching {
		cache, err := NewResponseCache(cfg.CacheSize)
		if err != nil {
			return nil, NewLLMError(ErrorTypeProvider, "failed to create response cache", err)
		}
		c.cache = cache
	}

	return c, nil
}

// SetOption sets a per-request provider option.
func (c *Client) SetOption(key string, value any) {
	c.Options[key] = value
	c.logger.Debug("Option set", "key", key, "value", value)
}

// Tools exposes the tool registry for registration.
func (c *Client) Tools() *ToolRegistry {
	return c.tools
}

// Close releases pooled resources.
func (c *Client) Close() {
	c.tools.Close()
}

// Generate runs the full orchestration for a request: call the provider,
// and while the model keeps requesting tool execution, run the tools,
// extend the conversation with the call/result pairs and call again.
// The loop is bounded by MaxToolIterations.
func (c *Client) Generate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	req = c.withTools(req)

	var cacheKey string
	if c.cache != nil {
		body, err := c.Provider.PrepareRequest(req, c.Options)
		if err == nil {
			cacheKey = c.cache.Key(c.Provider.Name(), body)
			if cached, ok := c.cache.Get(cacheKey); ok {
				c.logger.Debug("Response served from cache", "provider", c.Provider.Name())
				return cached, nil
			}
		}
	}

	usage := &providers.Usage{}
	for iteration := 0; iteration <= c.MaxToolIterations; iteration++ {
		response, err := c.callWithRetry(ctx, req)
		if err != nil {
			return nil, err
		}
		usage.Add(response.Usage)

		if !response.HasToolCalls() || c.tools.Len() == 0 {
			response.Usage = usage
			if c.cache != nil && cacheKey != "" {
				c.cache.Put(cacheKey, response)
			}
			return response, nil
		}

		c.logger.Debug("Model requested tool execution",
			"provider", c.Provider.Name(), "calls", len(response.ToolCalls), "iteration", iteration+1)

		results := c.tools.Execute(ctx, response.ToolCalls)

		if c.tools.IsReturnDirect(response.ToolCalls) {
			// Hand the tool output straight back to the caller without
			// another model turn.
			direct := &providers.Response{
				Content:      joinResults(results),
				FinishReason: "tool_return_direct",
				Usage:        usage,
				Done:         true,
			}
			return direct, nil
		}

		req = appendToolExchange(req, response, results)
	}

	return nil, NewLLMError(ErrorTypeToolLoop,
		fmt.Sprintf("tool loop did not converge after %d iterations", c.MaxToolIterations), nil)
}

// GeneratePrompt is a convenience wrapper for single-turn text prompts.
func (c *Client) GeneratePrompt(ctx context.Context, prompt string) (string, error) {
	req := providers.NewRequestBuilder().
		WithSystemPrompt(c.config.SystemPrompt).
		WithPrompt(prompt).
		Build()
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateWithSchema produces output conforming to the JSON schema of
// schemaValue. Providers with native schema support get the schema in the
// request; the rest get it appended to the prompt. Either way the result
// is validated before being returned.
func (c *Client) GenerateWithSchema(ctx context.Context, req *providers.Request, schemaValue any) (*providers.Response, error) {
	schemaMap, err := schema.Generate(schemaValue)
	if err != nil {
		return nil, NewLLMError(ErrorTypeInvalidInput, "failed to generate schema", err)
	}

	working := req.Clone()
	if c.Provider.SupportsJSONSchema() {
		working.ResponseSchema = schemaMap
	} else if len(working.Messages) > 0 {
		schemaJSON, err := json.MarshalIndent(schemaMap, "", "  ")
		if err != nil {
			return nil, NewLLMError(ErrorTypeInvalidInput, "failed to marshal schema", err)
		}
		last := &working.Messages[len(working.Messages)-1]
		last.Content = fmt.Sprintf(
			"%s\n\nRespond with JSON matching this schema, and nothing else:\n%s",
			last.Content, schemaJSON)
	}

	response, err := c.Generate(ctx, working)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(response.Content, schemaMap); err != nil {
		return nil, NewLLMError(ErrorTypeResponse, "response does not match schema", err)
	}
	return response, nil
}

// withTools attaches the registered tool definitions unless the request
// already declares its own or the provider cannot call tools.
func (c *Client) withTools(req *providers.Request) *providers.Request {
	if len(req.Tools) > 0 || c.tools.Len() == 0 || !c.Provider.SupportsToolCalling() {
		return req
	}
	out := req.Clone()
	out.Tools = c.tools.Definitions()
	return out
}

// callWithRetry performs one model turn under the retry policy.
func (c *Client) callWithRetry(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := c.waitForRateLimit(ctx); err != nil {
			return nil, err
		}

		response, err := c.attempt(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		c.logger.Warn("Generation attempt failed",
			"provider", c.Provider.Name(), "error", err, "attempt", attempt+1)

		if attempt < c.MaxRetries {
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, NewLLMError(ErrorTypeAPI,
		fmt.Sprintf("failed after %d attempts", c.MaxRetries+1), lastErr)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return NewLLMError(ErrorTypeRateLimit, "rate limiter wait aborted", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.RetryDelay):
		return nil
	}
}

// attempt performs a single HTTP round trip and parses the result.
func (c *Client) attempt(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	reqBody, err := c.Provider.PrepareRequest(req, c.Options)
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "failed to prepare request", err)
	}
	c.logger.Debug("Request body", "provider", c.Provider.Name(), "body", string(reqBody))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Provider.Endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "failed to create request", err)
	}
	for k, v := range c.Provider.Headers() {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "failed to send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(ErrorTypeResponse, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("API error",
			"provider", c.Provider.Name(), "status", resp.StatusCode, "body", string(body))
		return nil, errorFromStatus(resp.StatusCode, body)
	}

	parsed, err := c.Provider.ParseResponse(body)
	if err != nil {
		return nil, NewLLMError(ErrorTypeResponse, "failed to parse response", err)
	}
	return parsed, nil
}

// appendToolExchange extends the conversation with the assistant's tool
// calls followed by one tool message per result, ids matching call order.
func appendToolExchange(req *providers.Request, response *providers.Response, results []types.ToolResult) *providers.Request {
	next := req.Clone()
	next.Messages = append(next.Messages,
		types.NewAssistantMessage(response.Content, response.ToolCalls))

	names := make(map[string]string, len(response.ToolCalls))
	for _, call := range response.ToolCalls {
		names[call.ID] = call.GetName()
	}
	for _, result := range results {
		next.Messages = append(next.Messages,
			types.NewToolMessage(result, names[result.ToolCallID]))
	}
	return next
}

func joinResults(results []types.ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n")
}
