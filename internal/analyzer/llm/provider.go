package llm

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Supported providers. All of them speak the OpenAI chat completions API.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderVLLM   = "vllm"
	ProviderOllama = "ollama"
)

const (
	defaultVLLMURL   = "http://localhost:8000/v1"
	defaultOllamaURL = "http://localhost:11434/v1"
)

// Providers lists the accepted Provider values.
var Providers = []string{ProviderOpenAI, ProviderAzure, ProviderVLLM, ProviderOllama}

// NeedsAPIKey reports whether provider rejects unauthenticated requests.
// Self-hosted vLLM and Ollama servers usually run without a key.
func NeedsAPIKey(provider string) bool {
	return provider == "" || provider == ProviderOpenAI || provider == ProviderAzure
}

func clientConfig(cfg Config) (openai.ClientConfig, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")

	switch cfg.Provider {
	case "", ProviderOpenAI:
		oc := openai.DefaultConfig(cfg.APIKey)
		if base != "" {
			oc.BaseURL = base
		}
		return oc, nil
	case ProviderAzure:
		if base == "" {
			return openai.ClientConfig{}, fmt.Errorf("llm provider %q needs a base URL", cfg.Provider)
		}
		return openai.DefaultAzureConfig(cfg.APIKey, base), nil
	case ProviderVLLM, ProviderOllama:
		if base == "" {
			base = defaultVLLMURL
			if cfg.Provider == ProviderOllama {
				base = defaultOllamaURL
			}
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = base
		return oc, nil
	default:
		return openai.ClientConfig{}, fmt.Errorf("unknown llm provider %q: must be one of %s",
			cfg.Provider, strings.Join(Providers, ", "))
	}
}
