package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Endpoint  string // Optional: override the provider's default endpoint
	Dimension int    // Local provider only
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. FINETUNE_EMBEDDING_PROVIDER (openai, jina, local)
// 2. Check for API keys: OPENAI_API_KEY, JINA_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	provider := DetectProvider()
	cfg := Config{Provider: provider, CacheSize: 10000}
	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	}
	return New(cfg)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return newHTTP(ProviderOpenAI, OpenAIEndpoint, DefaultOpenAIModel, OpenAIDimension, cfg, cache)
	case ProviderJina:
		return newHTTP(ProviderJina, JinaEndpoint, DefaultJinaModel, JinaDimension, cfg, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func newHTTP(name, endpoint, model string, dim int, cfg Config, cache *Cache) (*HTTPProvider, error) {
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
	}
	return NewHTTPProvider(HTTPConfig{
		Name:      name,
		Endpoint:  endpoint,
		APIKey:    cfg.APIKey,
		Model:     model,
		Dimension: dim,
	}, cache)
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	return ProviderLocal
}
