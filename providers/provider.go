// Package providers implements the adapters that translate the portable
// request model into each vendor's chat completion wire format and back.
// It currently covers OpenAI, DeepSeek, Google Gemini and Ollama, plus a
// scriptable mock for tests.
package providers

import (
	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/utils"
)

// Provider is the complete interface every adapter must implement.
type Provider interface {
	// Core identification and configuration
	Name() string
	Endpoint() string
	StreamEndpoint() string
	Headers() map[string]string
	SetExtraHeaders(extraHeaders map[string]string)
	SetDefaultOptions(cfg *config.Config)
	SetOption(key string, value any)
	SetLogger(logger utils.Logger)

	// Request preparation
	PrepareRequest(req *Request, options map[string]any) ([]byte, error)
	PrepareStreamRequest(req *Request, options map[string]any) ([]byte, error)

	// Response handling
	ParseResponse(body []byte) (*Response, error)
	ParseStreamResponse(chunk []byte) (*Response, error)

	// Capability checks
	SupportsStreaming() bool
	SupportsToolCalling() bool
	SupportsJSONSchema() bool
}

// ProviderConfig holds the static description of a provider endpoint.
type ProviderConfig struct {
	// Name is the provider identifier
	Name string

	// Endpoint is the API endpoint URL
	Endpoint string

	// AuthHeader is the header key used for authentication
	AuthHeader string

	// AuthPrefix is the prefix to use before the API key (e.g., "Bearer ")
	AuthPrefix string

	// RequiredHeaders are additional headers always needed
	RequiredHeaders map[string]string

	// Capability flags
	SupportsStreaming   bool
	SupportsToolCalling bool
	SupportsJSONSchema  bool
}

// ProviderConstructor creates a provider instance. Each adapter registers
// one of these with the Registry.
type ProviderConstructor func(apiKey, model string, extraHeaders map[string]string) Provider
