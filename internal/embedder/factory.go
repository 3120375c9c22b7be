package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration. Credentials are supplied by the
// caller; nothing is read from the environment here.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	Timeout   time.Duration
	CacheSize int // 0 disables the text cache
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderGemini:
		return NewGeminiProvider(cfg, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider picks a provider when none is configured: Gemini when a
// Gemini key is available, then OpenAI, then the local fallback.
func DetectProvider(geminiKey, openaiKey string) string {
	if geminiKey != "" {
		return ProviderGemini
	}
	if openaiKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// IsKnownProvider reports whether name selects a provider New can build
func IsKnownProvider(name string) bool {
	switch strings.ToLower(name) {
	case ProviderOpenAI, ProviderGemini, ProviderOllama, ProviderLocal:
		return true
	}
	return false
}
