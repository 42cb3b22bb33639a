// Package config holds the runtime configuration for modelmux clients.
// Values come from the environment by default and can be overridden with
// functional options.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/modelmux/modelmux/utils"
)

// MemoryOption enables token-bounded conversation memory.
type MemoryOption struct {
	MaxTokens int
}

type Config struct {
	Provider          string         `env:"LLM_PROVIDER" envDefault:"openai" validate:"required"`
	Model             string         `env:"LLM_MODEL" envDefault:"gpt-4o-mini" validate:"required"`
	OllamaEndpoint    string         `env:"OLLAMA_ENDPOINT" envDefault:"http://localhost:11434"`
	Temperature       float64        `env:"LLM_TEMPERATURE" envDefault:"0.7" validate:"gte=0,lte=2"`
	MaxTokens         int            `env:"LLM_MAX_TOKENS" envDefault:"1024" validate:"gte=1"`
	TopP              float64        `env:"LLM_TOP_P" envDefault:"0.9"`
	Timeout           time.Duration  `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxRetries        int            `env:"LLM_MAX_RETRIES" envDefault:"3" validate:"gte=0"`
	RetryDelay        time.Duration  `env:"LLM_RETRY_DELAY" envDefault:"2s"`
	MaxToolIterations int            `env:"LLM_MAX_TOOL_ITERATIONS" envDefault:"5" validate:"gte=1"`
	ToolWorkers       int            `env:"LLM_TOOL_WORKERS" envDefault:"4" validate:"gte=1"`
	RateLimit         float64        `env:"LLM_RATE_LIMIT" envDefault:"0"`
	RateBurst         int            `env:"LLM_RATE_BURST" envDefault:"1"`
	EnableCaching     bool           `env:"LLM_ENABLE_CACHING" envDefault:"false"`
	CacheSize         int            `env:"LLM_CACHE_SIZE" envDefault:"256" validate:"gte=1"`
	LogLevel          utils.LogLevel `env:"LLM_LOG_LEVEL" envDefault:"WARN"`
	Seed              *int           `env:"LLM_SEED"`
	APIKeys           map[string]string
	SystemPrompt      string
	ExtraHeaders      map[string]string
	MemoryOption      *MemoryOption
}

// LoadConfig builds a Config from the environment. Any variable of the
// form <PROVIDER>_API_KEY is picked up as the key for that provider.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIKeys: make(map[string]string),
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	loadAPIKeys(cfg)
	return cfg, nil
}

func loadAPIKeys(cfg *Config) {
	for _, envVar := range os.Environ() {
		key, value, found := strings.Cut(envVar, "=")
		if found && strings.HasSuffix(strings.ToUpper(key), "_API_KEY") {
			provider := strings.TrimSuffix(strings.ToUpper(key), "_API_KEY")
			cfg.APIKeys[strings.ToLower(provider)] = value
		}
	}
}

type ConfigOption func(*Config)

// NewConfig returns a Config with library defaults, no environment involved.
func NewConfig() *Config {
	return &Config{
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		OllamaEndpoint:    "http://localhost:11434",
		Temperature:       0.7,
		MaxTokens:         1024,
		TopP:              0.9,
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		MaxToolIterations: 5,
		ToolWorkers:       4,
		RateBurst:         1,
		CacheSize:         256,
		APIKeys:           make(map[string]string),
		LogLevel:          utils.LogLevelWarn,
		ExtraHeaders:      make(map[string]string),
	}
}

func SetProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

func SetModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

func SetOllamaEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.OllamaEndpoint = endpoint
	}
}

func SetTemperature(temperature float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = temperature
	}
}

func SetMaxTokens(maxTokens int) ConfigOption {
	return func(c *Config) {
		if maxTokens < 1 {
			maxTokens = 1
		}
		c.MaxTokens = maxTokens
	}
}

func SetTopP(topP float64) ConfigOption {
	return func(c *Config) {
		c.TopP = topP
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetAPIKey(apiKey string) ConfigOption {
	return func(c *Config) {
		if c.APIKeys == nil {
			c.APIKeys = make(map[string]string)
		}
		c.APIKeys[c.Provider] = apiKey
	}
}

func SetMaxRetries(maxRetries int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

func SetRetryDelay(retryDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = retryDelay
	}
}

// SetMaxToolIterations bounds how many times a single Generate call may
// loop through tool execution before giving up.
func SetMaxToolIterations(n int) ConfigOption {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.MaxToolIterations = n
	}
}

func SetToolWorkers(n int) ConfigOption {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.ToolWorkers = n
	}
}

// SetRateLimit caps outgoing requests at rps requests per second with the
// given burst. A zero rps disables client-side rate limiting.
func SetRateLimit(rps float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RateLimit = rps
		if burst < 1 {
			burst = 1
		}
		c.RateBurst = burst
	}
}

func SetEnableCaching(enableCaching bool) ConfigOption {
	return func(c *Config) {
		c.EnableCaching = enableCaching
	}
}

func SetCacheSize(size int) ConfigOption {
	return func(c *Config) {
		if size < 1 {
			size = 1
		}
		c.CacheSize = size
	}
}

func SetLogLevel(level utils.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func SetSeed(seed int) ConfigOption {
	return func(c *Config) {
		c.Seed = &seed
	}
}

func SetSystemPrompt(prompt string) ConfigOption {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

func SetMemory(maxTokens int) ConfigOption {
	return func(c *Config) {
		c.MemoryOption = &MemoryOption{
			MaxTokens: maxTokens,
		}
	}
}

func SetExtraHeaders(headers map[string]string) ConfigOption {
	return func(c *Config) {
		if c.ExtraHeaders == nil {
			c.ExtraHeaders = make(map[string]string)
		}
		for k, v := range headers {
			c.ExtraHeaders[k] = v
		}
	}
}

func ApplyOptions(cfg *Config, options ...ConfigOption) {
	for _, option := range options {
		option(cfg)
	}
}
