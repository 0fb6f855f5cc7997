package providers

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// keyPrefixLen bounds how much of an API key participates in the cache key.
// Enough to distinguish keys without holding full secrets in map keys.
const keyPrefixLen = 12

// Factory creates and caches provider instances. Two requests for the same
// kind and API key share one instance, so SDK clients and their connection
// pools are reused.
type Factory struct {
	mu    sync.Mutex
	cache map[string]Provider
}

// NewFactory creates an empty provider factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]Provider)}
}

// Create returns a provider for the given kind, reusing a cached instance
// when one exists for the same kind and key.
func (f *Factory) Create(kind Kind, cfg Config) (Provider, error) {
	cacheKey := f.cacheKey(kind, cfg.APIKey)

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[cacheKey]; ok {
		return p, nil
	}

	var (
		p   Provider
		err error
	)
	switch kind {
	case KindAnthropic:
		p, err = NewAnthropic(cfg)
	case KindOpenAI:
		p, err = NewOpenAI(cfg)
	case KindGoogle:
		p, err = NewGoogle(cfg)
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", kind)
	}
	if err != nil {
		return nil, err
	}

	f.cache[cacheKey] = p
	return p, nil
}

// CreateFromEnvironment builds a provider from process environment:
// LLM_PROVIDER picks the kind (default anthropic), the matching *_API_KEY
// supplies credentials, and LLM_MODEL, LLM_MAX_TOKENS, LLM_TEMPERATURE
// override the adapter defaults.
func (f *Factory) CreateFromEnvironment() (Provider, error) {
	kind := Kind(os.Getenv("LLM_PROVIDER"))
	if kind == "" {
		kind = KindAnthropic
	}

	var keyVar string
	switch kind {
	case KindAnthropic:
		keyVar = "ANTHROPIC_API_KEY"
	case KindOpenAI:
		keyVar = "OPENAI_API_KEY"
	case KindGoogle:
		keyVar = "GOOGLE_API_KEY"
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", kind)
	}

	cfg := Config{APIKey: os.Getenv(keyVar)}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s is not set", keyVar)
	}

	cfg.Model = os.Getenv("LLM_MODEL")
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid LLM_MAX_TOKENS: %q", v)
		}
		cfg.MaxTokens = n
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 2 {
			return nil, fmt.Errorf("invalid LLM_TEMPERATURE: %q", v)
		}
		cfg.Temperature = t
	}

	return f.Create(kind, cfg)
}

// Purge drops all cached instances.
func (f *Factory) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]Provider)
}

func (f *Factory) cacheKey(kind Kind, apiKey string) string {
	prefix := apiKey
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	return string(kind) + ":" + prefix
}
