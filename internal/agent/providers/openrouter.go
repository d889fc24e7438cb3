package providers

// NewOpenRouterProvider constructs the adapter for OpenRouter's aggregator
// endpoint. Unlike the other OpenAI-compatible hosts, OpenRouter expects
// model IDs on the wire in "vendor/model" form and recommends an X-Title /
// HTTP-Referer pair identifying the calling application, so PreservePrefix
// is always on and DefaultHeaders is pre-seeded when the caller doesn't
// override it.
func NewOpenRouterProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "openrouter"
	cfg.PreservePrefix = true
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.DefaultHeaders == nil {
		cfg.DefaultHeaders = map[string]string{
			"HTTP-Referer": "https://nimbus.dev",
			"X-Title":      "nimbus",
		}
	}
	return newOpenAICompatible(cfg)
}
