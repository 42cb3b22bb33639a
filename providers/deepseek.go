package providers

import (
	"github.com/modelmux/modelmux/config"
)

// DeepSeekProvider implements the Provider interface for DeepSeek's API.
// It embeds OpenAIProvider since DeepSeek exposes an OpenAI-compatible
// chat completions endpoint.
type DeepSeekProvider struct {
	OpenAIProvider
}

// NewDeepSeekProvider creates a new DeepSeek provider instance.
func NewDeepSeekProvider(apiKey, model string, extraHeaders map[string]string) *DeepSeekProvider {
	base := NewOpenAIProvider(apiKey, model, extraHeaders)
	base.endpoint = "https://api.deepseek.com/chat/completions"
	return &DeepSeekProvider{OpenAIProvider: *base}
}

// Name returns "deepseek" as the provider identifier.
func (p *DeepSeekProvider) Name() string {
	return "deepseek"
}

// SetDefaultOptions applies global config defaults. DeepSeek ignores the
// seed parameter, so only the sampling options are forwarded.
func (p *DeepSeekProvider) SetDefaultOptions(cfg *config.Config) {
	p.SetOption("temperature", cfg.Temperature)
	p.SetOption("max_tokens", cfg.MaxTokens)
	p.SetOption("top_p", cfg.TopP)
}

// SupportsJSONSchema is false: DeepSeek supports json_object mode but not
// schema-constrained output, so structured requests take the prompt
// fallback path.
func (p *DeepSeekProvider) SupportsJSONSchema() bool {
	return false
}
