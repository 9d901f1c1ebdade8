package provider

import "fmt"

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// ProviderConfig mirrors config.InferenceProvider to avoid circular imports.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
}

// FromConfig creates a Provider from a config entry. The api field
// selects the wire format:
//   - "openai-completions"  -> OpenAI-compatible (OpenAI, Ollama, vLLM, etc.)
//   - "anthropic-messages"  -> Anthropic Messages API
func FromConfig(cfg ProviderConfig) (Provider, error) {
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey), nil
	case APIAnthropic:
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic)
	}
}
