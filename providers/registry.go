package providers

import (
	"fmt"
	"sync"
)

// Registry manages the registration and retrieval of providers. It is safe
// for concurrent use and supports dynamic registration of custom adapters.
type Registry struct {
	providers map[string]ProviderConstructor
	configs   map[string]ProviderConfig
	mutex     sync.RWMutex
}

// NewRegistry creates a registry with the given providers. With no names,
// every known provider is registered.
func NewRegistry(providerNames ...string) *Registry {
	registry := &Registry{
		providers: make(map[string]ProviderConstructor),
		configs:   make(map[string]ProviderConfig),
	}

	knownProviders := getKnownProviders()
	for name, cfg := range getStandardConfigs() {
		registry.configs[name] = cfg
	}

	if len(providerNames) == 0 {
		for name, constructor := range knownProviders {
			registry.providers[name] = constructor
		}
	} else {
		for _, name := range providerNames {
			if constructor, ok := knownProviders[name]; ok {
				registry.providers[name] = constructor
			}
		}
	}

	return registry
}

func getKnownProviders() map[string]ProviderConstructor {
	return map[string]ProviderConstructor{
		"openai": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewOpenAIProvider(apiKey, model, extraHeaders)
		},
		"deepseek": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewDeepSeekProvider(apiKey, model, extraHeaders)
		},
		"gemini": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewGeminiProvider(apiKey, model, extraHeaders)
		},
		"google": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewGeminiProvider(apiKey, model, extraHeaders)
		},
		"ollama": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewOllamaProvider(apiKey, model, extraHeaders)
		},
		"mock": func(apiKey, model string, extraHeaders map[string]string) Provider {
			return NewMockProvider("http://mock.local", model, extraHeaders)
		},
	}
}

func getStandardConfigs() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Name:                "openai",
			Endpoint:            "https://api.openai.com/v1/chat/completions",
			AuthHeader:          "Authorization",
			AuthPrefix:          "Bearer ",
			RequiredHeaders:     map[string]string{"Content-Type": "application/json"},
			SupportsStreaming:   true,
			SupportsToolCalling: true,
			SupportsJSONSchema:  true,
		},
		"deepseek": {
			Name:                "deepseek",
			Endpoint:            "https://api.deepseek.com/chat/completions",
			AuthHeader:          "Authorization",
			AuthPrefix:          "Bearer ",
			RequiredHeaders:     map[string]string{"Content-Type": "application/json"},
			SupportsStreaming:   true,
			SupportsToolCalling: true,
			SupportsJSONSchema:  false,
		},
		"gemini": {
			Name:                "gemini",
			Endpoint:            "https://generativelanguage.googleapis.com/v1beta/",
			AuthHeader:          "x-goog-api-key",
			AuthPrefix:          "",
			RequiredHeaders:     map[string]string{"Content-Type": "application/json"},
			SupportsStreaming:   true,
			SupportsToolCalling: true,
			SupportsJSONSchema:  true,
		},
		"ollama": {
			Name:                "ollama",
			Endpoint:            "http://localhost:11434/api/chat",
			AuthHeader:          "", // Ollama doesn't require authentication
			AuthPrefix:          "",
			RequiredHeaders:     map[string]string{"Content-Type": "application/json"},
			SupportsStreaming:   true,
			SupportsToolCalling: true,
			SupportsJSONSchema:  false,
		},
	}
}

// GetProviderConfig returns the static configuration for a named provider.
func (r *Registry) GetProviderConfig(name string) (ProviderConfig, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cfg, exists := r.configs[name]
	return cfg, exists
}

// RegisterProviderConfig registers a new provider configuration.
func (r *Registry) RegisterProviderConfig(name string, cfg ProviderConfig) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.configs[name] = cfg
}

// IsKnownProvider reports whether the default registry recognizes the name.
func IsKnownProvider(name string) bool {
	_, ok := getKnownProviders()[name]
	return ok
}

// Register adds a new provider constructor to the registry.
func (r *Registry) Register(name string, constructor ProviderConstructor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[name] = constructor
}

// Get creates a provider instance by name using its registered constructor.
func (r *Registry) Get(name, apiKey, model string, extraHeaders map[string]string) (Provider, error) {
	r.mutex.RLock()
	constructor, exists := r.providers[name]
	r.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	return constructor(apiKey, model, extraHeaders), nil
}
